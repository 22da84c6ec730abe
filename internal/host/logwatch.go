package host

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mcdatalink/datalink/internal/db"
	"github.com/mcdatalink/datalink/internal/events"
	"github.com/mcdatalink/datalink/internal/util"
)

var (
	uuidLine = regexp.MustCompile(`UUID of player (\S+) is ([0-9a-fA-F-]{32,36})\s*$`)
	joinLine = regexp.MustCompile(`\]: (\S+) joined the game\s*$`)
	leftLine = regexp.MustCompile(`\]: (\S+) left the game\s*$`)
	saveLine = regexp.MustCompile(`\]: Saved the (?:game|world)\s*$`)
)

// logPollInterval catches writes fsnotify coalesced or missed.
const logPollInterval = 2 * time.Second

// LogWatcher tails the game server's logs/latest.log and turns join, quit
// and save lines into events.
type LogWatcher struct {
	path     string
	bus      *events.EventBus
	registry *db.PlayersDatabase
	logger   zerolog.Logger

	offset  int64
	partial []byte
	names   map[string]uuid.UUID
}

// NewLogWatcher watches <serverDir>/logs/latest.log. registry resolves names
// the watcher has not seen a UUID line for; it may be nil.
func NewLogWatcher(serverDir string, bus *events.EventBus, registry *db.PlayersDatabase) *LogWatcher {
	return &LogWatcher{
		path:     filepath.Join(serverDir, "logs", "latest.log"),
		bus:      bus,
		registry: registry,
		logger:   util.ComponentLogger("logwatch"),
		names:    make(map[string]uuid.UUID),
	}
}

// Run tails the log until ctx is cancelled. Lines already in the file when
// Run starts are skipped.
func (w *LogWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create log watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	if info, err := os.Stat(w.path); err == nil {
		w.offset = info.Size()
	}
	w.logger.Info().Str("file", w.path).Int64("offset", w.offset).Msg("watching server log")

	ticker := time.NewTicker(logPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				// Rotated: the new file starts from zero.
				w.offset = 0
				w.partial = nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.poll(ctx)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("log watcher error")

		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// poll reads whatever was appended since the last call.
func (w *LogWatcher) poll(ctx context.Context) {
	f, err := os.Open(w.path)
	if err != nil {
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return
	}
	if info.Size() < w.offset {
		w.logger.Debug().Msg("server log truncated, starting over")
		w.offset = 0
		w.partial = nil
	}
	if info.Size() == w.offset {
		return
	}

	if _, err := f.Seek(w.offset, io.SeekStart); err != nil {
		return
	}
	data, err := io.ReadAll(io.LimitReader(f, info.Size()-w.offset))
	if err != nil {
		w.logger.Warn().Err(err).Msg("failed to read server log")
		return
	}
	w.offset += int64(len(data))
	w.consume(ctx, data)
}

// consume splits data into lines, keeping an unterminated tail for later.
func (w *LogWatcher) consume(ctx context.Context, data []byte) {
	buf := append(w.partial, data...)
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		w.handleLine(ctx, strings.TrimRight(string(buf[:i]), "\r"))
		buf = buf[i+1:]
	}
	w.partial = append([]byte(nil), buf...)
}

func (w *LogWatcher) handleLine(ctx context.Context, line string) {
	if m := uuidLine.FindStringSubmatch(line); m != nil {
		if id, err := uuid.Parse(m[2]); err == nil {
			w.names[m[1]] = id
		}
		return
	}

	if m := joinLine.FindStringSubmatch(line); m != nil {
		w.emitPlayer(ctx, events.EventPlayerJoined, m[1])
		return
	}

	if m := leftLine.FindStringSubmatch(line); m != nil {
		w.emitPlayer(ctx, events.EventPlayerQuit, m[1])
		return
	}

	if saveLine.MatchString(line) {
		w.emit(ctx, events.Event{Type: events.EventWorldSaved, Source: "logwatch"})
	}
}

func (w *LogWatcher) emitPlayer(ctx context.Context, t events.EventType, name string) {
	id, ok := w.resolve(ctx, name)
	if !ok {
		w.logger.Warn().Str("name", name).Str("event", string(t)).Msg("unknown player, event skipped")
		return
	}
	w.emit(ctx, events.Event{
		Type:    t,
		Source:  "logwatch",
		Payload: events.PlayerPayload{ID: id, Name: name},
	})
}

func (w *LogWatcher) resolve(ctx context.Context, name string) (uuid.UUID, bool) {
	if id, ok := w.names[name]; ok {
		return id, true
	}
	if w.registry == nil {
		return uuid.Nil, false
	}
	id, ok, err := w.registry.FindByName(ctx, name)
	if err != nil {
		w.logger.Warn().Err(err).Str("name", name).Msg("player lookup failed")
		return uuid.Nil, false
	}
	if ok {
		w.names[name] = id
	}
	return id, ok
}

// emit delivers synchronously so join and quit reach the link in log order.
func (w *LogWatcher) emit(ctx context.Context, e events.Event) {
	if err := w.bus.EmitSync(ctx, e); err != nil {
		w.logger.Debug().Err(err).Str("event", string(e.Type)).Msg("event handler failed")
	}
}
