package api

// indexPage is formatted with the version and the public base URL.
const indexPage = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>vidproxy</title>
    <style>
        :root {
            --bg-primary: #0f0f0f;
            --bg-card: #242424;
            --text-primary: #ffffff;
            --text-secondary: #a0a0a0;
            --accent: #3b82f6;
            --border: #333333;
        }
        * { box-sizing: border-box; margin: 0; padding: 0; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            background: var(--bg-primary);
            color: var(--text-primary);
            line-height: 1.6;
        }
        .container { max-width: 900px; margin: 0 auto; padding: 2rem 1.5rem; }
        h1 { font-size: 2rem; margin-bottom: 0.25rem; }
        h2 { margin: 2rem 0 1rem; color: var(--accent); }
        p { color: var(--text-secondary); }
        .endpoint {
            background: var(--bg-card);
            border: 1px solid var(--border);
            border-left: 4px solid var(--accent);
            border-radius: 8px;
            padding: 1rem;
            margin-bottom: 1rem;
        }
        .method {
            display: inline-block;
            min-width: 4.5rem;
            font-weight: bold;
            color: var(--accent);
        }
        code, pre { font-family: Consolas, Monaco, monospace; }
        pre { margin-top: 0.5rem; overflow-x: auto; color: var(--text-secondary); }
    </style>
</head>
<body>
<div class="container">
    <h1>vidproxy</h1>
    <p>Scrapes player embeds, proxies their HLS streams and downloads them with ffmpeg. Version %s.</p>

    <h2>Videos</h2>
    <div class="endpoint">
        <p><span class="method">GET</span><code>/api/health</code></p>
        <p>Check that the server is running.</p>
    </div>
    <div class="endpoint">
        <p><span class="method">GET</span><code>/api/videos/:videoId</code></p>
        <p>Scrape a video. Add <code>?refresh=true</code> to bypass the descriptor cache.</p>
        <pre>curl %[2]s/api/videos/9q4yh8ji5k4w</pre>
    </div>
    <div class="endpoint">
        <p><span class="method">GET</span><code>/api/videos/:videoId/cookies</code></p>
        <p>Cookies captured during the last scrape.</p>
    </div>
    <div class="endpoint">
        <p><span class="method">GET</span><code>/api/videos/:videoId/variants?source=0</code></p>
        <p>Renditions listed by a source's master playlist.</p>
    </div>
    <div class="endpoint">
        <p><span class="method">GET</span><code>/api/videos</code></p>
        <p>List scraped videos and their downloaded files.</p>
    </div>
    <div class="endpoint">
        <p><span class="method">DELETE</span><code>/api/videos/:videoId</code></p>
        <p>Remove a video, its cookies, its jobs and its files.</p>
    </div>

    <h2>Proxy</h2>
    <div class="endpoint">
        <p><span class="method">GET</span><code>/api/proxy/m3u8?url=&amp;videoId=&amp;referer=&amp;cookies=</code></p>
        <p>Fetch a manifest with the video's cookies and rewrite every URI to a proxy link.</p>
    </div>
    <div class="endpoint">
        <p><span class="method">GET</span><code>/api/proxy/segment?url=&amp;videoId=</code></p>
        <p>Relay a segment, key or subtitle file.</p>
    </div>

    <h2>Downloads</h2>
    <div class="endpoint">
        <p><span class="method">POST</span><code>/api/videos/:videoId/download</code></p>
        <pre>curl -X POST -H "Content-Type: application/json" -d '{"sourceIndex": 0}' %[2]s/api/videos/9q4yh8ji5k4w/download</pre>
    </div>
    <div class="endpoint">
        <p><span class="method">GET</span><code>/api/videos/:videoId/download/status</code></p>
        <p>Jobs and finished files of a video.</p>
    </div>
    <div class="endpoint">
        <p><span class="method">GET</span><code>/api/downloads/:jobId</code></p>
        <p>Progress of one download job.</p>
    </div>
    <p>Finished files are served at <code>/downloads/:videoId/:fileName</code>.</p>
</div>
</body>
</html>`
