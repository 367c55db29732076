// Package telemetry records combat events as InfluxDB time series, falling
// back to a gzipped line-protocol file when the server is unreachable.
package telemetry

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"

	"github.com/aloksahay/warhead/internal/config"
	"github.com/aloksahay/warhead/internal/events"
	"github.com/aloksahay/warhead/internal/logging"
)

// Measurement names.
const (
	MeasurementImpact  = "missile_impact"
	MeasurementPlayer  = "player_state"
	MeasurementMissile = "missile_state"
)

const retentionSeconds = 60 * 60 * 24 * 90

// ErrDisabled is returned by Connect when influx.enabled is false.
var ErrDisabled = errors.New("influx telemetry is disabled")

// Manager owns the InfluxDB client, or the backup file when the server
// could not be reached at connect time.
type Manager struct {
	cfg    config.InfluxConfig
	log    logging.Logger
	client influxdb2.Client
	writer influxdb2_api.WriteAPI

	mu         sync.Mutex
	backupFile *os.File
	backup     *gzip.Writer
	online     bool
}

// NewManager creates an unconnected manager.
func NewManager(cfg config.InfluxConfig, log logging.Logger) *Manager {
	return &Manager{cfg: cfg, log: log}
}

// Online reports whether points go to the server rather than the backup file.
func (m *Manager) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Connect pings the server and prepares the write path.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.cfg.Enabled {
		return ErrDisabled
	}

	m.client = influxdb2.NewClientWithOptions(
		m.cfg.URL(),
		m.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(2500).
			SetFlushInterval(1000),
	)

	running, err := m.client.Ping(ctx)
	if err != nil || !running {
		m.log.Warn("influxdb unreachable, writing to backup file", "url", m.cfg.URL(), "backup", m.cfg.BackupPath, "error", err)
		return m.openBackup()
	}

	if err := m.ensureBucket(ctx); err != nil {
		return err
	}

	m.writer = m.client.WriteAPI(m.cfg.Org, m.cfg.Bucket)
	go func(errorsCh <-chan error) {
		for writeErr := range errorsCh {
			m.log.Error("error sending data to influxdb", "bucket", m.cfg.Bucket, "error", writeErr)
		}
	}(m.writer.Errors())

	m.mu.Lock()
	m.online = true
	m.mu.Unlock()
	m.log.Info("influxdb client initialized", "url", m.cfg.URL(), "bucket", m.cfg.Bucket)
	return nil
}

func (m *Manager) openBackup() error {
	if m.cfg.BackupPath == "" {
		return errors.New("influxdb unreachable and no backup path configured")
	}
	file, err := os.OpenFile(m.cfg.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error creating backup file: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.backupFile = file
	m.backup = gzip.NewWriter(file)
	return nil
}

// ensureBucket creates the organization and bucket when missing.
func (m *Manager) ensureBucket(ctx context.Context) error {
	orgs := m.client.OrganizationsAPI()
	org, err := orgs.FindOrganizationByName(ctx, m.cfg.Org)
	if err != nil {
		m.log.Info("organization not found, creating", "org", m.cfg.Org)
		org, err = orgs.CreateOrganizationWithName(ctx, m.cfg.Org)
		if err != nil {
			return fmt.Errorf("creating organization %q: %w", m.cfg.Org, err)
		}
	}

	buckets := m.client.BucketsAPI()
	if _, err := buckets.FindBucketByName(ctx, m.cfg.Bucket); err == nil {
		return nil
	}

	m.log.Info("bucket not found, creating", "bucket", m.cfg.Bucket)
	rule := domain.RetentionRuleTypeExpire
	_, err = buckets.CreateBucketWithName(ctx, org, m.cfg.Bucket, domain.RetentionRule{
		Type:         &rule,
		EverySeconds: retentionSeconds,
	})
	if err != nil {
		return fmt.Errorf("creating bucket %q: %w", m.cfg.Bucket, err)
	}
	return nil
}

// WritePoint sends a point to the server or appends it to the backup file.
func (m *Manager) WritePoint(point *influxdb2_write.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.online {
		m.writer.WritePoint(point)
		return nil
	}
	if m.backup == nil {
		return errors.New("influxdb client not initialized and backup writer not available")
	}

	lineProtocol := strings.TrimRight(influxdb2_write.PointToLineProtocol(point, time.Nanosecond), "\n")
	if _, err := m.backup.Write([]byte(lineProtocol + "\n")); err != nil {
		return fmt.Errorf("error writing to influxdb backup file: %w", err)
	}
	return nil
}

// Subscriber opens bus subscriptions.
type Subscriber interface {
	Subscribe(f events.Filter) (*events.Subscription, error)
}

// Run writes every bus event until ctx is done or the bus closes. A
// subscription dropped for falling behind is replaced; events published
// in between are lost.
func (m *Manager) Run(ctx context.Context, bus Subscriber) error {
	for {
		sub, err := bus.Subscribe(events.Everything())
		if errors.Is(err, events.ErrBusClosed) {
			return nil
		}
		if err != nil {
			return err
		}

		err = m.Consume(ctx, sub)
		switch {
		case ctx.Err() != nil, err == nil, errors.Is(err, events.ErrBusClosed):
			return nil
		case errors.Is(err, events.ErrSlowConsumer):
			m.log.Warn("telemetry fell behind, resubscribing", "error", err)
		default:
			return err
		}
	}
}

// Consume writes every event from sub until ctx is done or the subscription
// ends. It returns the subscription's terminal error, if any.
func (m *Manager) Consume(ctx context.Context, sub *events.Subscription) error {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-sub.Events():
			if !ok {
				return sub.Err()
			}
			point := PointForEvent(e)
			if point == nil {
				continue
			}
			if err := m.WritePoint(point); err != nil {
				m.log.Error("telemetry write failed", "seq", e.Seq, "kind", e.Kind.String(), "error", err)
			}
		}
	}
}

// Close flushes pending writes and releases the client and backup file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	if m.writer != nil {
		m.writer.Flush()
	}
	if m.client != nil {
		m.client.Close()
	}
	if m.backup != nil {
		errs = append(errs, m.backup.Close(), m.backupFile.Close())
		m.backup = nil
		m.backupFile = nil
	}
	m.online = false
	return errors.Join(errs...)
}

// PointForEvent maps an event to a point. It returns nil for events with
// no payload.
func PointForEvent(e events.Event) *influxdb2_write.Point {
	switch {
	case e.Kind == events.KindImpactOccurred && e.Impact != nil:
		im := e.Impact
		return influxdb2.NewPoint(MeasurementImpact,
			map[string]string{"target_id": im.TargetID},
			map[string]any{
				"seq":        int64(e.Seq),
				"missile_id": int64(im.MissileID),
				"damage":     im.Damage,
				"latitude":   im.ImpactLocation.Lat,
				"longitude":  im.ImpactLocation.Lon,
			},
			im.ImpactTime)

	case e.Kind == events.KindPlayerUpdated && e.Player != nil:
		p := e.Player
		fields := map[string]any{
			"seq":           int64(e.Seq),
			"shield_points": p.ShieldPoints,
		}
		if p.Location != nil {
			fields["latitude"] = p.Location.Lat
			fields["longitude"] = p.Location.Lon
		}
		return influxdb2.NewPoint(MeasurementPlayer,
			map[string]string{"player_id": p.ID, "status": string(p.Status)},
			fields,
			e.PublishedAt)

	case e.Kind == events.KindMissileUpdated && e.Missile != nil:
		ms := e.Missile
		fields := map[string]any{
			"seq":        int64(e.Seq),
			"missile_id": int64(ms.ID),
			"token_id":   ms.TokenID,
			"type":       ms.Type,
		}
		if ms.TargetID != nil {
			fields["target_id"] = *ms.TargetID
		}
		return influxdb2.NewPoint(MeasurementMissile,
			map[string]string{"owner_id": ms.OwnerID, "status": string(ms.Status)},
			fields,
			e.PublishedAt)
	}
	return nil
}
