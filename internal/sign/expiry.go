package sign

import (
	"context"
	"time"

	"go.uber.org/atomic"
	"moff.io/walletconnect-sign/internal/config"
	"moff.io/walletconnect-sign/pkg/log"
	"moff.io/walletconnect-sign/pkg/log/meta"
)

// SweepResult counts what one sweep removed.
type SweepResult struct {
	Sessions  int
	Pairings  int
	Proposals int
}

// SweepExpired deletes expired sessions, pairings and proposals. Expired
// sessions are archived first when an archiver is configured.
func (c *Client) SweepExpired(ctx context.Context) (SweepResult, error) {
	ctx = meta.Begin(ctx)
	var res SweepResult
	now := c.opts.Now()

	sessions, err := c.sessions.All(ctx)
	if err != nil {
		return res, err
	}
	for _, s := range sessions {
		if !s.IsExpired(now) {
			continue
		}
		if c.opts.Archiver != nil {
			if err := c.opts.Archiver.Archive(ctx, s); err != nil {
				log.WithTopic(s.Topic).Warnf("archive expired session:%v", err)
			}
		}
		unlock := c.locks.Lock(s.Topic)
		err := c.cleanupSession(ctx, s)
		unlock()
		if err != nil {
			return res, err
		}
		res.Sessions++
		emit(c, c.deletionsPub, SessionDeletion{Topic: s.Topic, Reason: ReasonSessionExpired})
	}

	pairings, err := c.pairings.All(ctx)
	if err != nil {
		return res, err
	}
	for _, p := range pairings {
		if !p.IsExpired(now) {
			continue
		}
		unlock := c.locks.Lock(p.Topic)
		err := c.deletePairing(ctx, p.Topic)
		unlock()
		if err != nil {
			return res, err
		}
		res.Pairings++
		emit(c, c.pairingExpPub, PairingExpiration{Topic: p.Topic})
	}

	proposals, err := c.proposals.All(ctx)
	if err != nil {
		return res, err
	}
	for _, p := range proposals {
		if !p.IsExpired(now) {
			continue
		}
		if err := c.proposals.Delete(ctx, p.ID); err != nil {
			return res, err
		}
		_ = c.verify.Delete(ctx, p.ID)
		_ = c.history.Delete(ctx, p.ID)
		res.Proposals++
	}
	return res, nil
}

// Sweeper runs SweepExpired on an interval.
type Sweeper struct {
	client   *Client
	interval time.Duration

	runs    atomic.Int64
	removed atomic.Int64
}

func NewSweeper(client *Client, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{client: client, interval: interval}
}

// Apply takes the sweep interval from the session config.
func (s *Sweeper) Apply(conf *config.Configuration) {
	if conf.Session.SweepInterval > 0 {
		s.interval = conf.Session.SweepInterval
	}
}

// Start sweeps on every tick until ctx is done.
func (s *Sweeper) Start(ctx context.Context) error {
	go s.run(ctx)
	return nil
}

func (s *Sweeper) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

func (s *Sweeper) Sweep(ctx context.Context) {
	res, err := s.client.SweepExpired(ctx)
	s.runs.Inc()
	s.removed.Add(int64(res.Sessions + res.Pairings + res.Proposals))
	if err != nil {
		log.Errorf("sweep expired:%v", err)
		return
	}
	if res != (SweepResult{}) {
		log.Infof("swept %d sessions, %d pairings, %d proposals", res.Sessions, res.Pairings, res.Proposals)
	}
}

// Stats returns the sweeps run and the records removed so far.
func (s *Sweeper) Stats() (runs, removed int64) {
	return s.runs.Load(), s.removed.Load()
}
