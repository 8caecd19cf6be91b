/*
 * Copyright 2025 Cong Wang
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package service coordinates the agent registry, the in-memory mailboxes
// and durable storage. Every operation on one agent runs under that agent's
// lock from the initial load through the durable write, and the registry
// always names every agent with a stored mailbox.
package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/amtp-protocol/agentmail/internal/agents"
	"github.com/amtp-protocol/agentmail/internal/errors"
	"github.com/amtp-protocol/agentmail/internal/logging"
	"github.com/amtp-protocol/agentmail/internal/mailbox"
	"github.com/amtp-protocol/agentmail/internal/metrics"
	"github.com/amtp-protocol/agentmail/internal/storage"
	"github.com/amtp-protocol/agentmail/internal/types"
)

// DefaultPreloadConcurrency bounds concurrent mailbox loads at startup
const DefaultPreloadConcurrency = 8

// Operation names used in logs and metrics
const (
	OpSend          = "send"
	OpListMessages  = "list_messages"
	OpDeleteMessage = "delete_message"
	OpClearMailbox  = "clear_mailbox"
	OpRegisterAgent = "register_agent"
	OpListAgents    = "list_agents"
)

// Persistence targets
const (
	targetMailbox  = "mailbox"
	targetRegistry = "registry"
)

// Config holds service tuning knobs
type Config struct {
	PreloadConcurrency int
}

// Stats is a point-in-time summary of the service state
type Stats struct {
	Agents          int `json:"agents"`
	LoadedMailboxes int `json:"loaded_mailboxes"`
}

type agentEntry struct {
	mu  sync.Mutex
	box *mailbox.Mailbox // nil until durable state exists and has been loaded
}

// MailboxService owns all mailbox and registry state
type MailboxService struct {
	store    storage.Storage
	registry *agents.Registry
	logger   *logging.Logger
	metrics  metrics.MetricsProvider

	// registryMu serializes registry mutation together with its durable write.
	// It is always acquired after an agent lock, never before.
	registryMu sync.Mutex

	mu      sync.Mutex
	entries map[string]*agentEntry
	loaded  atomic.Int64
}

// New builds the service and reconciles durable state: the registry becomes
// the union of the stored registry and the stored mailboxes, every
// registered mailbox is loaded, and registered agents without a mailbox get
// an empty one.
func New(ctx context.Context, store storage.Storage, cfg Config, logger *logging.Logger, m metrics.MetricsProvider) (*MailboxService, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if cfg.PreloadConcurrency <= 0 {
		cfg.PreloadConcurrency = DefaultPreloadConcurrency
	}

	s := &MailboxService{
		store:   store,
		logger:  logger.WithComponent("service"),
		metrics: m,
		entries: make(map[string]*agentEntry),
	}

	names, err := store.LoadRegistry(ctx)
	dirty := false
	if err != nil {
		if !storage.IsDecodeError(err) {
			return nil, fmt.Errorf("failed to load registry: %w", err)
		}
		s.reportDecodeError(targetRegistry, err)
		names = nil
		dirty = true
	}
	s.registry = agents.NewRegistry(names...)

	stored, err := store.EnumerateMailboxes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate mailboxes: %w", err)
	}
	for _, name := range stored {
		if s.registry.Register(name) {
			s.logger.WithField("agent", name).Info("Registered agent found only in mailbox storage")
			dirty = true
		}
	}

	if dirty {
		if err := s.saveRegistry(ctx); err != nil {
			return nil, fmt.Errorf("failed to save reconciled registry: %w", err)
		}
	}

	if err := s.preload(ctx, cfg.PreloadConcurrency); err != nil {
		return nil, err
	}

	s.updateGauges()
	s.logger.Infof("Mailbox service ready with %d agents", s.registry.Len())
	return s, nil
}

// preload loads every registered mailbox, creating empty ones where the
// registry names an agent with no stored mailbox
func (s *MailboxService) preload(ctx context.Context, concurrency int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, name := range s.registry.List() {
		name := name
		g.Go(func() error {
			e := s.entry(name)
			e.mu.Lock()
			defer e.mu.Unlock()

			box, exists, err := s.load(gctx, name, e)
			if err != nil {
				// Left unloaded; the first request retries the load
				s.logger.WithField("agent", name).Error("Failed to preload mailbox", err)
				return nil
			}
			if exists {
				return nil
			}

			if err := s.saveMailbox(gctx, name, box.File()); err != nil {
				return fmt.Errorf("failed to create mailbox for %s: %w", name, err)
			}
			s.install(e, box)
			return nil
		})
	}

	return g.Wait()
}

// Send appends a message to the recipient's mailbox and returns its ID.
// The sender is not validated. createdAt is supplied by the caller.
func (s *MailboxService) Send(ctx context.Context, recipient, sender, content string, createdAt time.Time) (messageID string, err error) {
	start := time.Now()
	defer func() { s.observe(recipient, OpSend, messageID, start, err) }()

	if err := validateName(recipient); err != nil {
		return "", err
	}

	e := s.entry(recipient)
	e.mu.Lock()
	defer e.mu.Unlock()

	box, created, err := s.loadForUpdate(ctx, recipient, e)
	if err != nil {
		return "", err
	}

	next := box.Clone()
	id := next.Append(types.NewMessage(content, sender, recipient, createdAt))

	if err := s.commit(ctx, recipient, e, next, created); err != nil {
		return "", err
	}
	return id, nil
}

// ListMessages returns a snapshot of the agent's messages in insertion
// order. An agent with no stored mailbox has no messages; listing it
// creates nothing.
func (s *MailboxService) ListMessages(ctx context.Context, agent string) (messages types.MessageSet, err error) {
	start := time.Now()
	defer func() { s.observe(agent, OpListMessages, "", start, err) }()

	if err := validateName(agent); err != nil {
		return nil, err
	}

	e := s.entry(agent)
	e.mu.Lock()
	defer e.mu.Unlock()

	box, _, err := s.load(ctx, agent, e)
	if err != nil {
		s.logger.WithField("agent", agent).Error("Failed to load mailbox, listing as empty", err)
		return types.MessageSet{}, nil
	}
	return box.List(), nil
}

// DeleteMessage removes one message. It fails with AGENT_NOT_FOUND when the
// agent has no mailbox and MESSAGE_NOT_FOUND when the ID is absent.
func (s *MailboxService) DeleteMessage(ctx context.Context, agent, messageID string) (err error) {
	start := time.Now()
	defer func() { s.observe(agent, OpDeleteMessage, messageID, start, err) }()

	if err := validateName(agent); err != nil {
		return err
	}

	e := s.entry(agent)
	e.mu.Lock()
	defer e.mu.Unlock()

	box, exists, err := s.load(ctx, agent, e)
	if err != nil {
		return errors.NewPersistenceError("failed to load mailbox", err)
	}
	if !exists {
		return errors.NewAgentNotFoundError(agent)
	}
	if _, ok := box.Get(messageID); !ok {
		return errors.NewMessageNotFoundError(agent, messageID)
	}

	next := box.Clone()
	next.Delete(messageID)

	return s.commit(ctx, agent, e, next, false)
}

// ClearMailbox removes every message and keeps the ID counter. Clearing an
// unknown agent succeeds and leaves it with an empty stored mailbox.
func (s *MailboxService) ClearMailbox(ctx context.Context, agent string) (err error) {
	start := time.Now()
	defer func() { s.observe(agent, OpClearMailbox, "", start, err) }()

	if err := validateName(agent); err != nil {
		return err
	}

	e := s.entry(agent)
	e.mu.Lock()
	defer e.mu.Unlock()

	box, created, err := s.loadForUpdate(ctx, agent, e)
	if err != nil {
		return err
	}

	next := box.Clone()
	next.Clear()

	return s.commit(ctx, agent, e, next, created)
}

// RegisterAgent adds a new agent and stores an empty mailbox for it. It
// fails with AGENT_CONFLICT when the name is registered or a mailbox for it
// already exists.
func (s *MailboxService) RegisterAgent(ctx context.Context, name string) (err error) {
	start := time.Now()
	defer func() { s.observe(name, OpRegisterAgent, "", start, err) }()

	if err := validateName(name); err != nil {
		return err
	}

	e := s.entry(name)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.box != nil {
		return errors.NewConflictError(name, "mailbox already exists")
	}

	if err := s.registerNew(ctx, name); err != nil {
		return err
	}

	box := mailbox.New(name)
	if err := s.saveMailbox(ctx, name, box.File()); err != nil {
		s.unregister(ctx, name)
		return errors.NewPersistenceError("failed to create mailbox", err)
	}

	s.install(e, box)
	return nil
}

// registerNew adds name to the registry and persists it, failing with a
// conflict if the name or its mailbox is already known
func (s *MailboxService) registerNew(ctx context.Context, name string) error {
	s.registryMu.Lock()
	defer s.registryMu.Unlock()

	if s.registry.Contains(name) {
		return errors.NewConflictError(name, "agent already registered")
	}

	exists, err := s.store.MailboxExists(ctx, name)
	if err != nil {
		return errors.NewPersistenceError("failed to check mailbox", err)
	}
	if exists {
		return errors.NewConflictError(name, "mailbox already exists")
	}

	s.registry.Register(name)
	if err := s.saveRegistry(ctx); err != nil {
		s.registry.Remove(name)
		return errors.NewPersistenceError("failed to save registry", err)
	}
	return nil
}

// unregister rolls back a registration whose mailbox could not be stored
func (s *MailboxService) unregister(ctx context.Context, name string) {
	s.registryMu.Lock()
	defer s.registryMu.Unlock()

	if !s.registry.Remove(name) {
		return
	}
	if err := s.saveRegistry(ctx); err != nil {
		s.logger.WithField("agent", name).Error("Failed to roll back registry entry", err)
	}
}

// ListAgents summarizes every registered agent. Mailboxes not yet loaded
// are loaded first so the counts reflect stored state.
func (s *MailboxService) ListAgents(ctx context.Context) (summaries map[string]types.AgentSummary, err error) {
	start := time.Now()
	defer func() { s.observe("", OpListAgents, "", start, err) }()

	names := s.registry.List()
	summaries = make(map[string]types.AgentSummary, len(names))
	for _, name := range names {
		summaries[name] = s.summarize(ctx, name)
	}
	return summaries, nil
}

func (s *MailboxService) summarize(ctx context.Context, name string) types.AgentSummary {
	e := s.entry(name)
	e.mu.Lock()
	defer e.mu.Unlock()

	box, _, err := s.load(ctx, name, e)
	if err != nil {
		s.logger.WithField("agent", name).Error("Failed to load mailbox for listing", err)
		return types.AgentSummary{}
	}
	return types.AgentSummary{
		MessageCount: box.Len(),
		MaxKey:       box.NextID(),
	}
}

// Stats returns the number of registered agents and loaded mailboxes
func (s *MailboxService) Stats() Stats {
	return Stats{
		Agents:          s.registry.Len(),
		LoadedMailboxes: int(s.loaded.Load()),
	}
}

// HealthCheck reports whether the underlying storage is usable
func (s *MailboxService) HealthCheck(ctx context.Context) error {
	return s.store.HealthCheck(ctx)
}

// Close releases the underlying storage
func (s *MailboxService) Close() error {
	return s.store.Close()
}

// entry returns the lock holder for an agent, creating it on first use
func (s *MailboxService) entry(agent string) *agentEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[agent]
	if !ok {
		e = &agentEntry{}
		s.entries[agent] = e
	}
	return e
}

// load returns the agent's mailbox, reading it from storage on first use.
// exists reports whether durable state for the agent is present; when it
// is not, an empty unsaved mailbox is returned. Undecodable state counts as
// absent. Must be called with e.mu held.
func (s *MailboxService) load(ctx context.Context, agent string, e *agentEntry) (box *mailbox.Mailbox, exists bool, err error) {
	if e.box != nil {
		return e.box, true, nil
	}

	f, err := s.store.LoadMailbox(ctx, agent)
	if err != nil {
		if !storage.IsDecodeError(err) {
			return nil, false, err
		}
		s.reportDecodeError(targetMailbox, err)
		return mailbox.New(agent), false, nil
	}
	if f == nil {
		return mailbox.New(agent), false, nil
	}

	box = mailbox.FromFile(agent, f)
	if err := s.ensureRegistered(ctx, agent); err != nil {
		return nil, false, err
	}
	s.install(e, box)
	return box, true, nil
}

// loadForUpdate is load for mutating operations: storage failures become
// persistence errors and created reports that the mailbox is new
func (s *MailboxService) loadForUpdate(ctx context.Context, agent string, e *agentEntry) (*mailbox.Mailbox, bool, error) {
	box, exists, err := s.load(ctx, agent, e)
	if err != nil {
		return nil, false, errors.NewPersistenceError("failed to load mailbox", err)
	}
	return box, !exists, nil
}

// commit durably stores next and then makes it the agent's live mailbox. A
// newly created mailbox is registered after it is stored; if that fails the
// stored mailbox is removed again. Must be called with e.mu held.
func (s *MailboxService) commit(ctx context.Context, agent string, e *agentEntry, next *mailbox.Mailbox, created bool) error {
	if err := s.saveMailbox(ctx, agent, next.File()); err != nil {
		return errors.NewPersistenceError("failed to save mailbox", err)
	}

	if created {
		if err := s.ensureRegistered(ctx, agent); err != nil {
			if delErr := s.store.DeleteMailbox(context.WithoutCancel(ctx), agent); delErr != nil {
				s.logger.WithField("agent", agent).Error("Failed to remove unregistered mailbox", delErr)
			}
			return errors.NewPersistenceError("failed to save registry", err)
		}
	}

	s.install(e, next)
	return nil
}

// install makes box the agent's live mailbox. Must be called with e.mu held.
func (s *MailboxService) install(e *agentEntry, box *mailbox.Mailbox) {
	if e.box == nil {
		s.loaded.Add(1)
	}
	e.box = box
	s.updateGauges()
}

// ensureRegistered adds agent to the registry and persists the registry if
// the name is new
func (s *MailboxService) ensureRegistered(ctx context.Context, agent string) error {
	s.registryMu.Lock()
	defer s.registryMu.Unlock()

	if !s.registry.Register(agent) {
		return nil
	}
	if err := s.saveRegistry(ctx); err != nil {
		s.registry.Remove(agent)
		return err
	}
	return nil
}

// saveRegistry writes the registry. Callers other than New hold registryMu.
func (s *MailboxService) saveRegistry(ctx context.Context) error {
	start := time.Now()
	err := s.store.SaveRegistry(context.WithoutCancel(ctx), s.registry.List())
	s.recordPersistence(targetRegistry, start, err)
	return err
}

func (s *MailboxService) saveMailbox(ctx context.Context, agent string, f *types.MailboxFile) error {
	start := time.Now()
	err := s.store.SaveMailbox(context.WithoutCancel(ctx), agent, f)
	s.recordPersistence(targetMailbox, start, err)
	return err
}

func (s *MailboxService) reportDecodeError(target string, err error) {
	path, quarantined := "", ""
	var decodeErr *storage.DecodeError
	if stderrors.As(err, &decodeErr) {
		path, quarantined = decodeErr.Path, decodeErr.Quarantined
	}
	s.logger.LogDecodeError(target, path, quarantined, err)

	if s.metrics != nil {
		s.metrics.RecordDecodeError(target)
	}
}

func (s *MailboxService) recordPersistence(target string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordPersistence(target, result(err), time.Since(start))
}

func (s *MailboxService) observe(agent, operation, messageID string, start time.Time, err error) {
	duration := time.Since(start)
	s.logger.LogMailboxOperation(agent, operation, messageID, duration, err)

	if s.metrics == nil {
		return
	}
	s.metrics.RecordOperation(operation, result(err), duration)
	if mailboxErr, ok := errors.AsMailboxError(err); ok {
		s.metrics.RecordError("service", string(mailboxErr.Code))
	}
}

func (s *MailboxService) updateGauges() {
	if s.metrics == nil {
		return
	}
	s.metrics.SetAgents(s.registry.Len())
	s.metrics.SetMailboxesLoaded(int(s.loaded.Load()))
}

func result(err error) string {
	if err != nil {
		return metrics.ResultError
	}
	return metrics.ResultSuccess
}

func validateName(name string) error {
	if err := agents.ValidateName(name); err != nil {
		return errors.NewInvalidAgentNameError(name, err)
	}
	return nil
}
