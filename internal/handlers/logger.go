package handlers

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/mattn/go-isatty"
)

const (
	cGreen   = "\u001b[92m"
	cYellow  = "\u001b[93m"
	cBlue    = "\u001b[94m"
	cRed     = "\u001b[91m"
	cCyan    = "\u001b[96m"
	cMagenta = "\u001b[95m"
	cReset   = "\u001b[0m"
)

// hookLogSampleRate logs one in this many hook requests
const hookLogSampleRate = 25

func statusColor(status int) string {
	switch {
	case status >= 200 && status < 300:
		return cGreen
	case status >= 300 && status < 400:
		return cBlue
	case status >= 400 && status < 500:
		return cYellow
	default:
		return cRed
	}
}

func methodColor(method string) string {
	switch method {
	case fiber.MethodGet:
		return cCyan
	case fiber.MethodPost:
		return cGreen
	case fiber.MethodDelete:
		return cRed
	default:
		return cMagenta
	}
}

func colorsEnabled() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) && os.Getenv("NO_COLOR") == "" && os.Getenv("TERM") != "dumb"
}

// SamplingLogger logs every request except hook ingestion, which fires on every tool call and
// is sampled. Failed hook requests are always logged.
func SamplingLogger(sampledPaths ...string) fiber.Handler {
	sampled := make(map[string]*atomic.Uint64, len(sampledPaths))
	for _, p := range sampledPaths {
		sampled[p] = &atomic.Uint64{}
	}
	enableColors := colorsEnabled()

	defaultLogger := logger.New(logger.Config{
		Format:        "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path} | ${error}\n",
		DisableColors: !enableColors,
	})

	return func(c *fiber.Ctx) error {
		counter, ok := sampled[c.Path()]
		if !ok {
			return defaultLogger(c)
		}

		start := time.Now()
		err := c.Next()
		count := counter.Add(1)

		status := c.Response().StatusCode()
		if err == nil && status < fiber.StatusBadRequest && count%hookLogSampleRate != 0 {
			return nil
		}

		sc, mc, reset := "", "", ""
		if enableColors {
			sc, mc, reset = statusColor(status), methodColor(c.Method()), cReset
		}
		errText := "-"
		if err != nil {
			errText = err.Error()
		}
		fmt.Printf("%s | %s%d%s | %13s | %s | %s%s%s | %s | %s [sampled: %d calls]\n",
			time.Now().Format("15:04:05"),
			sc, status, reset,
			time.Since(start),
			c.IP(),
			mc, c.Method(), reset,
			c.Path(),
			errText,
			count)
		return err
	}
}
