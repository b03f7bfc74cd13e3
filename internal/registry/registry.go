// Package registry implements the masternode registry: tier
// classification, liveness tracking, and voting-power computation.
package registry

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/timecoin/node/pkg/models"
	"github.com/timecoin/node/pkg/timeerr"
)

// GracePeriod is the maximum gap since the last heartbeat before a
// masternode is no longer eligible for a heartbeat-driven Active
// transition.
const GracePeriod = 1800 * time.Second

var logger = log.New(log.Writer(), "[registry] ", log.LstdFlags)

type entry struct {
	node       models.Masternode
	liveSynced bool
}

// Registry owns every Masternode in the federation, guarded by a
// single reader/writer lock.
type Registry struct {
	mu            sync.RWMutex
	nodes         map[string]*entry
	currentHeight uint64
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{nodes: make(map[string]*entry)}
}

// Register adds a new masternode at the given collateral, classifying
// its tier. Fails with InsufficientCollateral if below the Community
// minimum, AlreadyRegistered if the ID is already known.
func (r *Registry) Register(nodeID string, collateral uint64, netInfo models.NetworkInfo, currentHeight uint64) (models.Masternode, error) {
	tier, ok := registryClassify(collateral)
	if !ok {
		return models.Masternode{}, timeerr.Newf(timeerr.KindInsufficientCollateral,
			"collateral %d below minimum tier threshold", collateral)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodes[nodeID]; exists {
		return models.Masternode{}, timeerr.Newf(timeerr.KindAlreadyRegistered,
			"masternode %s is already registered", nodeID)
	}

	now := time.Now()
	node := models.Masternode{
		ID:                 nodeID,
		Collateral:         collateral,
		Tier:               tier,
		NetworkInfo:        netInfo,
		RegistrationHeight: currentHeight,
		RegisteredAt:       now,
		SyncStatus:         models.SyncStatus{Kind: models.SyncNotSynced},
		State:              models.StateRegistered,
		Reputation:         100,
	}
	r.nodes[nodeID] = &entry{node: node}
	logger.Printf("registered %s tier=%s collateral=%d height=%d", nodeID, tier, collateral, currentHeight)
	return node, nil
}

func registryClassify(collateral uint64) (models.Tier, bool) {
	return ClassifyTier(collateral)
}

// Activate forces a masternode directly to Active, bypassing the
// heartbeat grace-period check. Used by admin tooling / tests.
func (r *Registry) Activate(nodeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.nodes[nodeID]
	if !ok {
		return timeerr.Newf(timeerr.KindNotFound, "masternode %s not found", nodeID)
	}
	e.node.State = models.StateActive
	return nil
}

// Deactivate forces a masternode to Inactive.
func (r *Registry) Deactivate(nodeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.nodes[nodeID]
	if !ok {
		return timeerr.Newf(timeerr.KindNotFound, "masternode %s not found", nodeID)
	}
	e.node.State = models.StateInactive
	return nil
}

// Ban moves a masternode to Banned, used when the quarantine list (C4)
// escalates a peer past the point of readmission.
func (r *Registry) Ban(nodeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.nodes[nodeID]
	if !ok {
		return timeerr.Newf(timeerr.KindNotFound, "masternode %s not found", nodeID)
	}
	e.node.State = models.StateBanned
	return nil
}

// Heartbeat records a liveness ping. It upgrades Registered/Inactive to
// Active only if sync_status is Synced and the gap since the previous
// heartbeat is within GracePeriod.
func (r *Registry) Heartbeat(nodeID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.nodes[nodeID]
	if !ok {
		return timeerr.Newf(timeerr.KindNotFound, "masternode %s not found", nodeID)
	}

	prev := e.node.LastHeartbeat
	e.node.LastHeartbeat = at

	if e.node.State == models.StateBanned {
		return nil
	}

	synced := e.node.SyncStatus.Kind == models.SyncSynced
	withinGrace := prev.IsZero() || at.Sub(prev) < GracePeriod
	if synced && withinGrace && e.node.State != models.StateActive {
		e.node.State = models.StateActive
	}
	return nil
}

// SetSyncStatus updates a masternode's reported sync progress.
func (r *Registry) SetSyncStatus(nodeID string, status models.SyncStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.nodes[nodeID]
	if !ok {
		return timeerr.Newf(timeerr.KindNotFound, "masternode %s not found", nodeID)
	}
	e.node.SyncStatus = status
	return nil
}

// AdvanceHeight records the chain's current height, used for vote-maturity
// checks in EffectiveWeight.
func (r *Registry) AdvanceHeight(height uint64) {
	r.mu.Lock()
	r.currentHeight = height
	r.mu.Unlock()
}

// SyncWithConnectedPeers is the authoritative liveness truth:
// any registered node NOT present in peerIDs is marked Inactive
// for ActiveSet/EffectiveWeight purposes. A later sync that reports it
// again restores only its liveness flag; it becomes Active again on a
// subsequent Heartbeat.
func (r *Registry) SyncWithConnectedPeers(peerIDs []string) {
	present := make(map[string]bool, len(peerIDs))
	for _, id := range peerIDs {
		present[id] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.nodes {
		live := present[id]
		e.liveSynced = live
		if !live && e.node.State == models.StateActive {
			e.node.State = models.StateInactive
		}
	}
}

// maturitySatisfied reports whether a node has cleared its tier's
// vote-maturity blocks at the given height.
func maturitySatisfied(node *models.Masternode, currentHeight uint64) bool {
	if node.Tier == models.TierNone {
		return false
	}
	info := Info(node.Tier)
	if currentHeight < node.RegistrationHeight {
		return false
	}
	return currentHeight-node.RegistrationHeight >= info.VoteMaturityBlocks
}

// EffectiveWeight is a pure function of (tier, registration_height, now,
// active, maturity_satisfied). Unregistered IDs and inactive/immature
// nodes return 0, so votes referencing a removed masternode harmlessly
// contribute zero weight.
func (r *Registry) EffectiveWeight(nodeID string, now time.Time) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.effectiveWeightLocked(nodeID, now)
}

func (r *Registry) effectiveWeightLocked(nodeID string, now time.Time) uint64 {
	e, ok := r.nodes[nodeID]
	if !ok {
		return 0
	}
	if e.node.State != models.StateActive || !e.liveSynced {
		return 0
	}
	if !maturitySatisfied(&e.node, r.currentHeight) {
		return 0
	}
	info := Info(e.node.Tier)
	days := now.Sub(e.node.RegisteredAt).Hours() / 24.0
	if days < 0 {
		days = 0
	}
	mult := LongevityMultiplier(days)
	return uint64(float64(info.BaseWeight) * mult)
}

// ActiveSet returns the IDs of all currently Active, live-synced nodes,
// sorted lexicographically (the order leader rotation depends on).
func (r *Registry) ActiveSet() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.nodes))
	for id, e := range r.nodes {
		if e.node.State == models.StateActive && e.liveSynced {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// TotalWeightAt sums EffectiveWeight across the active set at time now.
func (r *Registry) TotalWeightAt(now time.Time) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var total uint64
	for id := range r.nodes {
		total += r.effectiveWeightLocked(id, now)
	}
	return total
}

// Get returns a copy of the masternode record, if present.
func (r *Registry) Get(nodeID string) (models.Masternode, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.nodes[nodeID]
	if !ok {
		return models.Masternode{}, false
	}
	return e.node, true
}

// All returns a copy of every masternode, keyed by ID.
func (r *Registry) All() map[string]models.Masternode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]models.Masternode, len(r.nodes))
	for id, e := range r.nodes {
		out[id] = e.node
	}
	return out
}

// Count returns the number of registered masternodes, regardless of state.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}
