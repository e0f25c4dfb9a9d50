// Package report turns a captured fault and the exchange that produced it
// into a notification with a rendered body and five text attachments.
package report

import (
	"context"
	"fmt"
	"net/http"

	"github.com/armorclaw/crashreport/pkg/errors"
	"github.com/armorclaw/crashreport/pkg/logger"
	"github.com/armorclaw/crashreport/pkg/metrics"
	"github.com/armorclaw/crashreport/pkg/notify"
	"github.com/armorclaw/crashreport/pkg/request"
)

// Attachment file names
const (
	ServerAttachment    = "server variables.txt"
	BacktraceAttachment = "backtrace.txt"
	RequestAttachment   = "request.txt"
	ResponseAttachment  = "response.txt"
	GlobalsAttachment   = "global variables.txt"
)

// DefaultSubjectPrefix prefixes every subject when none is configured
const DefaultSubjectPrefix = "Exception Handler"

// DefaultSessionTokenKey is the session entry stripped from the dump
const DefaultSessionTokenKey = "_security_main"

// Config configures an Assembler
type Config struct {
	From            notify.Address
	To              []notify.Address
	SubjectPrefix   string
	SystemVersion   string
	SessionTokenKey string
	MaxDepth        int
}

// Input is everything a crash report is built from. Request must already be
// redacted.
type Input struct {
	User         string
	ErrorMessage string
	Backtrace    string
	Annotation   string
	Request      request.Snapshot
	Response     request.Response
	Session      map[string]any
}

// Assembler builds crash report messages and hands them to a notify.Sender
type Assembler struct {
	cfg    Config
	sender notify.Sender
	log    *logger.Logger
}

// New creates an Assembler. Zero config fields take their defaults.
func New(cfg Config, sender notify.Sender, log *logger.Logger) *Assembler {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultSubjectPrefix
	}
	if cfg.SessionTokenKey == "" {
		cfg.SessionTokenKey = DefaultSessionTokenKey
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if log == nil {
		log = logger.Global()
	}
	return &Assembler{
		cfg:    cfg,
		sender: sender,
		log:    log.WithComponent("report"),
	}
}

// Build assembles the crash report for in
func (a *Assembler) Build(in Input) notify.Message {
	status := in.Response.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	responseHead := request.SplitHead(in.Response.String(), string(in.Response.Body))

	return notify.Message{
		From:       a.cfg.From,
		To:         a.cfg.To,
		Subject:    fmt.Sprintf("%s: %d error at %s", a.cfg.SubjectPrefix, status, in.Request.URI),
		TemplateID: notify.TemplateException,
		Context: map[string]any{
			"user":          in.User,
			"method":        in.Request.Method,
			"host":          in.Request.Host,
			"requestUri":    in.Request.URI,
			"systemVersion": a.cfg.SystemVersion,
			"errorMessage":  in.ErrorMessage,
			"annotation":    in.Annotation,
			"status":        status,
		},
		Attachments: []notify.Attachment{
			notify.TextAttachment(ServerAttachment, ServerDump(in.Request.Server, a.cfg.MaxDepth)),
			notify.TextAttachment(BacktraceAttachment, in.Backtrace),
			notify.TextAttachment(RequestAttachment, RequestDump(in.Request, a.cfg.MaxDepth)),
			notify.TextAttachment(ResponseAttachment, responseHead),
			notify.TextAttachment(GlobalsAttachment,
				GlobalsDump(in.Session, in.Request.Cookies, a.cfg.SessionTokenKey, a.cfg.MaxDepth)),
		},
	}
}

// Send builds and delivers the crash report. Transport failures are returned.
func (a *Assembler) Send(ctx context.Context, in Input) error {
	msg := a.Build(in)
	err := a.deliver(ctx, "exception", msg)
	if err == nil {
		a.log.Info("crash report sent", "uri", in.Request.URI, "recipients", len(msg.To))
	}
	return err
}

// BuildUploadFailed builds the notice sent when a backtrace could not be
// stored. errorType names the storage error. The backtrace is carried
// inline since no report will follow.
func (a *Assembler) BuildUploadFailed(errorType string, cause error, backtrace string) notify.Message {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	return notify.Message{
		From:       a.cfg.From,
		To:         a.cfg.To,
		Subject:    a.cfg.SubjectPrefix + ": Failed to upload backtrace",
		TemplateID: notify.TemplateUploadFailed,
		Context: map[string]any{
			"type":      errorType,
			"exception": reason,
			"backtrace": backtrace,
		},
	}
}

// SendUploadFailed builds and delivers the upload failure notice
func (a *Assembler) SendUploadFailed(ctx context.Context, errorType string, cause error, backtrace string) error {
	return a.deliver(ctx, "upload_failed", a.BuildUploadFailed(errorType, cause, backtrace))
}

func (a *Assembler) deliver(ctx context.Context, kind string, msg notify.Message) error {
	if a.sender == nil {
		return errors.New(errors.CodeNotifyTransport, "no notification sender configured")
	}
	err := a.sender.Send(ctx, msg)
	metrics.RecordNotification(kind, err)
	if err != nil {
		a.log.ErrorEvent(ctx, "notification failed", err)
		return notify.TransportError(err)
	}
	return nil
}
