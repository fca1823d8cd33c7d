package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/iudanet/chordkeeper/internal/codec"
	"github.com/iudanet/chordkeeper/internal/models"
)

// contentRequest один запрос тела песни, общий для всех ожидающих
type contentRequest struct {
	done    chan struct{}
	timer   *time.Timer
	content string
	once    sync.Once
	found   bool
}

func newContentRequest() *contentRequest {
	return &contentRequest{done: make(chan struct{})}
}

func (r *contentRequest) resolve(content string, found bool) {
	r.once.Do(func() {
		r.content, r.found = content, found
		close(r.done)
	})
}

// SetContentProvider sets the host-side source of song bodies.
func (m *Manager) SetContentProvider(p ContentProvider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.provider = p
}

// RequestContent returns the body of a manifest song. A cached body returns
// immediately. Concurrent calls for one id share a single request to the host.
// A timeout, a missing host or a closed session resolve as ("", false).
func (m *Manager) RequestContent(ctx context.Context, id string) (string, bool) {
	m.mu.Lock()
	s := m.sess
	if s == nil {
		m.mu.Unlock()
		return "", false
	}
	if content, ok := m.cache[id]; ok {
		m.mu.Unlock()
		return content, true
	}
	if s.role == models.RoleHost {
		provider := m.provider
		inManifest := m.manifest.Contains(id)
		m.mu.Unlock()
		if provider == nil || !inManifest {
			return "", false
		}
		return provider(ctx, id)
	}

	req, inFlight := m.pending[id]
	if !inFlight {
		req = newContentRequest()
		m.pending[id] = req
		req.timer = time.AfterFunc(m.cfg.ContentTimeout, func() {
			m.logger.Warn("content request unanswered",
				slog.String("song_id", id),
				slog.Any("error", ErrContentTimeout))
			m.finishRequest(id, req, "", false)
		})
	}
	m.mu.Unlock()

	if !inFlight {
		if err := m.send(ctx, s, s.hostID, codec.KindContentRequest, codec.ContentRequest{ID: id}); err != nil {
			m.finishRequest(id, req, "", false)
		}
	}

	select {
	case <-req.done:
		return req.content, req.found
	case <-ctx.Done():
		return "", false
	}
}

// finishRequest снимает запрос из ожидающих, только если это все еще он
func (m *Manager) finishRequest(id string, req *contentRequest, content string, found bool) {
	m.mu.Lock()
	if cur, ok := m.pending[id]; ok && cur == req {
		delete(m.pending, id)
		if found {
			m.cache[id] = content
		}
	}
	m.mu.Unlock()

	req.timer.Stop()
	req.resolve(content, found)
}

func (m *Manager) resolveContent(resp codec.ContentResponse) {
	m.mu.Lock()
	req, ok := m.pending[resp.ID]
	m.mu.Unlock()
	if !ok {
		m.logger.Debug("unsolicited content response", slog.String("song_id", resp.ID))
		return
	}
	m.finishRequest(resp.ID, req, resp.Content, resp.Found)
}

// serveContent хост: отвечает гостю телом песни из манифеста
func (m *Manager) serveContent(ctx context.Context, s *session, peer, id string) {
	resp := codec.ContentResponse{ID: id}

	m.mu.Lock()
	provider := m.provider
	inManifest := m.manifest.Contains(id)
	m.mu.Unlock()

	switch {
	case !m.authorized(s, peer):
		m.logger.Warn("content request from unauthorized peer", slog.String("peer", peer))
	case !inManifest || provider == nil:
	default:
		pctx, cancel := context.WithTimeout(ctx, m.cfg.ContentTimeout)
		resp.Content, resp.Found = provider(pctx, id)
		cancel()
	}

	_ = m.send(ctx, s, peer, codec.KindContentResponse, resp)
}

// UpdateManifest replaces the hosted manifest and sends it to every admitted guest.
func (m *Manager) UpdateManifest(ctx context.Context, manifest models.Manifest) error {
	if err := manifest.Validate(); err != nil {
		return fmt.Errorf("invalid manifest: %w", err)
	}

	m.mu.Lock()
	s := m.sess
	if s == nil {
		m.mu.Unlock()
		return ErrNotInSession
	}
	if s.role != models.RoleHost {
		m.mu.Unlock()
		return ErrNotHost
	}
	m.manifest = manifest.Clone()
	peers := make([]string, 0, len(m.participants))
	for id := range m.participants {
		if m.verified[id] && !m.ejectedPeers[id] {
			peers = append(peers, id)
		}
	}
	m.mu.Unlock()

	for _, peer := range peers {
		m.sendManifest(ctx, s, peer)
	}
	m.logger.Info("manifest updated", slog.Int("songs", len(manifest)), slog.Int("peers", len(peers)))
	return nil
}

// EjectParticipant removes a guest from the hosted session. The guest is
// refused any further requests in this session.
func (m *Manager) EjectParticipant(ctx context.Context, clientID string) error {
	m.mu.Lock()
	s := m.sess
	_, known := m.participants[clientID]
	m.mu.Unlock()

	switch {
	case s == nil:
		return ErrNotInSession
	case s.role != models.RoleHost:
		return ErrNotHost
	case !known:
		return ErrUnknownParticipant
	}

	m.eject(ctx, s, clientID, "removed by host")
	return nil
}
