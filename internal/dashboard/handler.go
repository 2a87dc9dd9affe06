package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/mschirtzinger/offsync/internal/integrity"
	"github.com/mschirtzinger/offsync/internal/offline"
	"github.com/mschirtzinger/offsync/internal/sync"
)

// SyncCompleteData contains sync pass information
type SyncCompleteData struct {
	UserID    string        `json:"user_id"`
	Success   int           `json:"success"`
	Failed    int           `json:"failed"`
	Remaining int           `json:"remaining"`
	Started   time.Time     `json:"started"`
	Duration  time.Duration `json:"duration"`
}

// IntegrityData contains an integrity report and, when recovery ran, its
// outcome.
type IntegrityData struct {
	IsValid        bool     `json:"is_valid"`
	Errors         []string `json:"errors"`
	Warnings       []string `json:"warnings"`
	HasBackup      bool     `json:"has_backup"`
	Recovered      *bool    `json:"recovered,omitempty"`
	BackupRestored bool     `json:"backup_restored,omitempty"`
}

// Handler turns engine and integrity events into dashboard messages.
type Handler struct {
	server *Server
	source StatusSource
	logger *log.Logger
}

// NewHandler creates a handler broadcasting through server. source may be
// nil, in which case no status follows a sync.
func NewHandler(server *Server, source StatusSource, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}

	return &Handler{
		server: server,
		source: source,
		logger: logger,
	}
}

// OnSyncComplete broadcasts a pass result followed by the refreshed queue
// status. Its signature matches sync.Config.Notify.
func (h *Handler) OnSyncComplete(report sync.PassReport) {
	h.send(MessageTypeSyncComplete, SyncCompleteData{
		UserID:    report.UserID,
		Success:   report.Result.Success,
		Failed:    report.Result.Failed,
		Remaining: report.Remaining,
		Started:   report.Started,
		Duration:  report.Duration,
	})

	if h.source == nil {
		return
	}
	st, err := h.source.Status(context.Background())
	if err != nil {
		h.logger.Printf("Failed to read queue status: %v", err)
		return
	}
	h.OnStatus(st)
}

// OnStatus broadcasts a queue status.
func (h *Handler) OnStatus(st offline.QueueStatus) {
	h.send(MessageTypeQueueStatus, st)
}

// OnIntegrity broadcasts an integrity report. recovery is nil when no
// recovery ran.
func (h *Handler) OnIntegrity(report integrity.Report, recovery *integrity.RecoveryResult) {
	data := IntegrityData{
		IsValid:   report.IsValid,
		Errors:    make([]string, 0, len(report.Errors)),
		Warnings:  report.Warnings,
		HasBackup: report.HasBackup,
	}
	if data.Warnings == nil {
		data.Warnings = []string{}
	}
	for _, e := range report.Errors {
		data.Errors = append(data.Errors, e.Error())
	}
	if recovery != nil {
		recovered := recovery.Recovered
		data.Recovered = &recovered
		data.BackupRestored = recovery.BackupRestored
	}

	h.send(MessageTypeIntegrityReport, data)
}

func (h *Handler) send(typ MessageType, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}

	h.server.Broadcast(Message{
		Type:      typ,
		Timestamp: time.Now(),
		Data:      data,
	})
}
