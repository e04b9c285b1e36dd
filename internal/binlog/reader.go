package binlog

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/replication"
	"github.com/sirupsen/logrus"

	"field-change-log/internal/config"
)

// Reader handles reading binlog events from MySQL
type Reader struct {
	syncer       *replication.BinlogSyncer
	streamer     *replication.BinlogStreamer
	position     mysql.Position
	positionFile string
	timeout      time.Duration
	logger       *logrus.Logger
}

// NewReader starts replicating from the saved position, or from
// binlog.start_position when nothing was saved yet
func NewReader(my config.MySQLConfig, cfg config.BinlogConfig, logger *logrus.Logger) (*Reader, error) {
	syncCfg := replication.BinlogSyncerConfig{
		ServerID: my.ServerID,
		Flavor:   my.Flavor,
		Host:     my.Host,
		Port:     uint16(my.Port),
		User:     my.User,
		Password: my.Password,
	}

	// go-mysql switches to GTID mode only when started from a GTID set;
	// positions are always tracked as file:pos here
	if my.UseGTID {
		logger.Info("GTID replication requested (currently using file:position format)")
	}

	position := mysql.Position{Pos: cfg.StartPosition}
	if data, err := os.ReadFile(cfg.PositionFile); err == nil && len(data) > 0 {
		position = ParsePosition(string(data), cfg.StartPosition)
		logger.Infof("Loaded binlog position from file: %s:%d", position.Name, position.Pos)
	}

	syncer := replication.NewBinlogSyncer(syncCfg)
	streamer, err := syncer.StartSync(position)
	if err != nil {
		syncer.Close()
		return nil, fmt.Errorf("failed to start binlog sync: %w", err)
	}

	logger.Infof("Started binlog sync from position: %s:%d", position.Name, position.Pos)

	return &Reader{
		syncer:       syncer,
		streamer:     streamer,
		position:     position,
		positionFile: cfg.PositionFile,
		timeout:      cfg.ReadTimeout,
		logger:       logger,
	}, nil
}

// ParsePosition parses "filename:position". A file holding only a name
// keeps the start position.
func ParsePosition(s string, startPos uint32) mysql.Position {
	s = strings.TrimSpace(s)
	// Last colon, file names may contain colons
	if i := strings.LastIndex(s, ":"); i > 0 && i < len(s)-1 {
		if pos, err := strconv.ParseUint(s[i+1:], 10, 32); err == nil {
			return mysql.Position{Name: s[:i], Pos: uint32(pos)}
		}
	}
	return mysql.Position{Name: s, Pos: startPos}
}

// SavePosition saves the current binlog position to file
func (r *Reader) SavePosition(name string, pos uint32) error {
	if name == "" {
		name = r.position.Name
	}
	if name == "" {
		return nil
	}
	posStr := fmt.Sprintf("%s:%d", name, pos)
	if err := os.WriteFile(r.positionFile, []byte(posStr), 0o644); err != nil {
		return fmt.Errorf("failed to save position: %w", err)
	}
	r.position = mysql.Position{Name: name, Pos: pos}
	return nil
}

// ReadEvent reads the next binlog event, giving up after the read timeout
func (r *Reader) ReadEvent(ctx context.Context) (*replication.BinlogEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	event, err := r.streamer.GetEvent(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get binlog event: %w", err)
	}

	if e, ok := event.Event.(*replication.RotateEvent); ok {
		if err := r.SavePosition(string(e.NextLogName), uint32(e.Position)); err != nil {
			r.logger.Warnf("Failed to save position: %v", err)
		}
	} else if event.Header.LogPos > 0 {
		if err := r.SavePosition("", event.Header.LogPos); err != nil {
			r.logger.Warnf("Failed to save position: %v", err)
		}
	}

	return event, nil
}

// Close closes the binlog reader
func (r *Reader) Close() {
	if r.syncer != nil {
		r.syncer.Close()
	}
}
