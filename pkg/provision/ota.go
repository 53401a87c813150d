package provision

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/urmzd/watchgate/pkg/db"
)

// OTAHandler handles firmware and check-in endpoints.
type OTAHandler struct {
	checkins db.CheckinStore
	opts     Options
}

// NewOTAHandler creates a new OTA handler
func NewOTAHandler(checkins db.CheckinStore, opts Options) *OTAHandler {
	return &OTAHandler{checkins: checkins, opts: opts}
}

// checkinRequest is the device's self-description. Every field is
// optional; devices with corrupt flash send empty bodies.
type checkinRequest struct {
	MACAddress  string `json:"mac_address"`
	Application struct {
		Version string `json:"version"`
	} `json:"application"`
	Board struct {
		IP string `json:"ip"`
	} `json:"board"`
}

// Version handles GET /ota/version
func (h *OTAHandler) Version(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version": "1.0.0",
		"build":   "1",
		"date":    "2024-01-01",
	})
}

// Firmware handles GET /ota/firmware
func (h *OTAHandler) Firmware(c *gin.Context) {
	if _, err := os.Stat(h.opts.FirmwarePath); err != nil {
		c.String(http.StatusNotFound, "Firmware not found")
		return
	}
	c.File(h.opts.FirmwarePath)
}

// Checkin handles POST /ota. The response always carries the WebSocket
// endpoint; a device that cannot describe itself still gets connected.
func (h *OTAHandler) Checkin(c *gin.Context) {
	var req checkinRequest
	body, err := io.ReadAll(c.Request.Body)
	if err == nil && len(body) > 0 {
		if jsonErr := json.Unmarshal(body, &req); jsonErr != nil {
			log.Warn().Err(jsonErr).Msg("Unparseable check-in body")
		}
	}

	mac := normalizeMAC(req.MACAddress)
	version := req.Application.Version
	if version == "" {
		version = "unknown"
	}
	ip := req.Board.IP
	if ip == "" {
		ip = c.ClientIP()
	}

	log.Info().Str("mac", mac).Str("version", version).Str("ip", ip).Msg("Device check-in")

	if h.checkins != nil && mac != "unknown" {
		if err := h.checkins.Record(c.Request.Context(), mac, version, ip); err != nil {
			log.Warn().Err(err).Msg("Failed to record check-in")
		}
	}

	// The device connects back over the same address it reached us on.
	host := requestHost(c.Request)
	wsURL := fmt.Sprintf("ws://%s:%d/ws", host, h.opts.WebSocketPort)

	c.JSON(http.StatusOK, gin.H{
		"server_time": gin.H{
			"timestamp":       time.Now().UnixMilli(),
			"timezone_offset": 0,
		},
		"websocket": gin.H{
			"url": wsURL,
		},
		"firmware": gin.H{},
	})
}

// normalizeMAC lowercases and strips separators so MACs key storage and
// topics consistently.
func normalizeMAC(mac string) string {
	if mac == "" {
		return "unknown"
	}
	clean := strings.ToLower(mac)
	clean = strings.NewReplacer(":", "", "-", "", ".", "").Replace(clean)
	if clean == "" {
		return "unknown"
	}
	return clean
}

func requestHost(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.Host); err == nil {
		return host
	}
	return r.Host
}
