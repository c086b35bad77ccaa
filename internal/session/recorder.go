// Package session runs one record or replay session end to end.
package session

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/vincentbai/browsetrace/internal/browser"
	"github.com/vincentbai/browsetrace/internal/capture"
	"github.com/vincentbai/browsetrace/internal/models"
	"github.com/vincentbai/browsetrace/internal/store"
)

type Recorder struct {
	surface browser.Surface
	store   store.Store
	logger  *zap.Logger

	Script    capture.ScriptConfig
	Options   []capture.Option
	Readiness browser.Readiness
	Viewport  *models.Viewport
	Out       io.Writer
	// OnChannel sees the capture channel before the page loads.
	OnChannel func(*capture.Channel)
}

func NewRecorder(surface browser.Surface, st store.Store, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		surface:   surface,
		store:     st,
		logger:    logger.Named("recorder"),
		Script:    capture.DefaultScriptConfig(),
		Readiness: browser.ReadyNetworkIdle,
		Out:       os.Stdout,
	}
}

// Record captures the session id starting at url until ctx is cancelled, then
// persists the log and its summary. The surface is left open for the caller
// to close.
func (r *Recorder) Record(ctx context.Context, id, url string) (*models.Log, error) {
	if err := store.ValidateID(id); err != nil {
		return nil, err
	}

	log := models.NewLog(id, url)
	log.Viewport = r.Viewport
	options := append([]capture.Option{capture.WithLogger(r.logger)}, r.Options...)
	channel := capture.NewChannel(log, options...)
	channel.Subscribe(capture.ProgressPrinter(r.Out))
	if r.OnChannel != nil {
		r.OnChannel(channel)
	}

	if err := channel.Attach(ctx, r.surface, r.Script); err != nil {
		return nil, fmt.Errorf("failed to attach capture: %w", err)
	}

	fmt.Fprintf(r.Out, "🎬 Recording %s\n", url)
	fmt.Fprintln(r.Out, "   Interact with the page. Press Ctrl+C to stop and save.")

	var navigateErr error
	if err := r.surface.Navigate(ctx, url, r.Readiness); err != nil && ctx.Err() == nil {
		r.logger.Error("Navigation failed", zap.String("url", url), zap.Error(err))
		navigateErr = fmt.Errorf("failed to navigate to %s: %w", url, err)
	} else {
		<-ctx.Done()
	}

	channel.Close()
	if err := r.save(context.WithoutCancel(ctx), id, log); err != nil {
		return log, err
	}
	return log, navigateErr
}

func (r *Recorder) save(ctx context.Context, id string, log *models.Log) error {
	if err := r.store.Save(ctx, id, log); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	if err := r.store.SaveSummary(ctx, id, log); err != nil {
		return fmt.Errorf("failed to save summary: %w", err)
	}
	r.logger.Info("Session saved", zap.String("session", id), zap.Int("events", log.Len()))
	fmt.Fprintf(r.Out, "\n💾 Saved %d events (%d network) to session %s\n", log.Len(), log.NetworkCount(), id)
	return nil
}
