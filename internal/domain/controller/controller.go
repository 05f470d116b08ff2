package controller

import (
	"time"
)

type Health string

const (
	HealthAlive   Health = "alive"
	HealthSuspect Health = "suspect"
	HealthDead    Health = "dead"
)

// Meta is host information a controller advertises at registration.
type Meta struct {
	Hostname    string `json:"hostname,omitempty"`
	CPUs        int    `json:"cpus,omitempty"`
	MemoryBytes uint64 `json:"memory_bytes,omitempty"`
	Version     string `json:"version,omitempty"`
}

// Controller is the master-side registry entry for one agent process.
type Controller struct {
	ID              string    `json:"id"`
	Address         string    `json:"address"`
	Capacity        int       `json:"capacity"`
	Load            int       `json:"load"`
	Health          Health    `json:"health"`
	Saturated       bool      `json:"saturated,omitempty"`
	Meta            Meta      `json:"meta"`
	RegisteredAt    time.Time `json:"registered_at"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
}

func New(id, address string, capacity int, meta Meta, now time.Time) Controller {
	return Controller{
		ID:              id,
		Address:         address,
		Capacity:        capacity,
		Health:          HealthAlive,
		Meta:            meta,
		RegisteredAt:    now,
		LastHeartbeatAt: now,
	}
}

func (c *Controller) RecordHeartbeat(now time.Time) {
	c.LastHeartbeatAt = now
}

// Silence is the time elapsed since the last heartbeat.
func (c *Controller) Silence(now time.Time) time.Duration {
	return now.Sub(c.LastHeartbeatAt)
}

func (c *Controller) IsStale(now time.Time, timeout time.Duration) bool {
	return c.Silence(now) > timeout
}

// Spare is the number of additional tasks the controller can take.
func (c *Controller) Spare() int {
	if s := c.Capacity - c.Load; s > 0 {
		return s
	}
	return 0
}

// Dispatchable reports whether the controller is a placement candidate.
func (c *Controller) Dispatchable() bool {
	return c.Health == HealthAlive && !c.Saturated && c.Spare() > 0
}

type ListFilters struct {
	Health *Health
}
