package session

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/vincentbai/browsetrace/internal/capture"
	"github.com/vincentbai/browsetrace/internal/models"
	"github.com/vincentbai/browsetrace/internal/replay"
	"github.com/vincentbai/browsetrace/internal/store"
)

type Replayer struct {
	store  store.Store
	engine *replay.Engine
	logger *zap.Logger
	out    io.Writer
}

func NewReplayer(st store.Store, engine *replay.Engine, logger *zap.Logger, out io.Writer) *Replayer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if out == nil {
		out = os.Stdout
	}
	r := &Replayer{store: st, engine: engine, logger: logger.Named("replayer"), out: out}
	engine.OnOutcome(r.printOutcome)
	return r
}

// Replay loads session id and replays it against url, or against the URL the
// session was recorded on when url is empty.
func (r *Replayer) Replay(ctx context.Context, id, url string) (*models.Summary, error) {
	log, err := r.store.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if url == "" {
		url = log.StartURL
	}
	if url == "" {
		return nil, fmt.Errorf("session %s has no start url", id)
	}

	fmt.Fprintf(r.out, "▶️  Replaying %d events from session %s on %s\n", log.Len(), id, url)
	summary, err := r.engine.Run(ctx, url, log)
	if summary != nil {
		PrintSummary(r.out, summary)
	}
	if err != nil {
		return summary, fmt.Errorf("failed to replay session %s: %w", id, err)
	}
	return summary, nil
}

func (r *Replayer) printOutcome(outcome models.Outcome) {
	mark := map[models.Status]string{
		models.StatusApplied: "✅",
		models.StatusSkipped: "⏭ ",
		models.StatusFailed:  "❌",
	}[outcome.Status]
	line := fmt.Sprintf("%s [%d] %s", mark, outcome.Index, capture.Describe(outcome.Event))
	if outcome.Error != "" {
		line += " (" + outcome.Error + ")"
	}
	fmt.Fprintln(r.out, line)
}

func PrintSummary(w io.Writer, summary *models.Summary) {
	fmt.Fprintf(w, "\n🏁 Replay finished in %s: %d events, %d applied, %d skipped, %d failed\n",
		summary.Duration.Round(time.Millisecond), summary.Total, summary.Applied, summary.Skipped, summary.Failed)
}
