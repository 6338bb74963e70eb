// healthprobe is a container-healthcheck helper: it probes the gateway's
// /healthz and /readyz endpoints and exits non-zero when either fails.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/valyala/fasthttp"
)

func main() {
	base := flag.String("url", "http://127.0.0.1:8080", "gateway base URL")
	timeout := flag.Duration("timeout", 3*time.Second, "per-probe timeout")
	flag.Parse()

	c := &fasthttp.Client{
		ReadTimeout:  *timeout,
		WriteTimeout: *timeout,
	}

	for _, path := range []string{"/healthz", "/readyz"} {
		status, body, err := c.GetTimeout(nil, *base+path, *timeout)
		if err != nil {
			fmt.Fprintf(os.Stderr, "probe %s failed: %v\n", path, err)
			os.Exit(1)
		}
		if status != fasthttp.StatusOK {
			fmt.Fprintf(os.Stderr, "probe %s: status %d: %s\n", path, status, body)
			os.Exit(1)
		}
	}
	fmt.Println("ok")
}
