package main

import (
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/RikaKagurasaka/symi/handlers"
)

func envUint(key string, fallback uint32) uint32 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		log.Printf("invalid %s=%q, using default %d", key, v, fallback)
		return fallback
	}
	return uint32(parsed)
}

func main() {
	r := gin.Default()

	// CORS — origins configurable via CORS_ORIGINS env var (comma-separated).
	// Defaults to * for local development; set a specific origin in production.
	originsEnv := os.Getenv("CORS_ORIGINS")
	if originsEnv == "" {
		originsEnv = "*"
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins: strings.Split(originsEnv, ","),
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type"},
	}))

	handlers.DefaultConfig.TicksPerQuarter = envUint("MIDI_TICKS_PER_QUARTER", handlers.DefaultConfig.TicksPerQuarter)
	handlers.DefaultConfig.PitchBendRangeSemitones = uint16(envUint("MIDI_PITCH_BEND_RANGE", uint32(handlers.DefaultConfig.PitchBendRangeSemitones)))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		api.POST("/file/:id", handlers.FileUpdate)
		api.DELETE("/file/:id", handlers.FileClose)
		api.GET("/file/:id/tokens", handlers.GetTokens)
		api.GET("/file/:id/diagnostics", handlers.GetDiagnostics)
		api.GET("/file/:id/events", handlers.GetEvents)
		api.POST("/file/:id/midi/validate", handlers.ValidateMidiExport)
		api.POST("/file/:id/midi/export", handlers.ExportMidi)
	}

	addr := os.Getenv("HOST_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	if err := r.Run(addr); err != nil {
		log.Fatalf("server failed to start: %v", err)
	}
}
