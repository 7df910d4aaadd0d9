package engine

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"boardsync/domain"
	"boardsync/store"
)

// Manager hands out one controller per signed-in owner and tears it down
// on sign-out.
type Manager struct {
	store  store.Store
	logger *log.Logger

	mu          sync.Mutex
	controllers map[string]*Controller
}

func NewManager(st store.Store, logger *log.Logger) *Manager {
	return &Manager{
		store:       st,
		logger:      logger,
		controllers: map[string]*Controller{},
	}
}

// Controller returns the owner's controller, starting one on first use.
func (m *Manager) Controller(owner domain.User) *Controller {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.controllers[owner.ID]; ok {
		return c
	}
	c := NewController(m.store, m.logger, owner)
	m.controllers[owner.ID] = c
	return c
}

// Release closes and forgets the owner's controller.
func (m *Manager) Release(ownerID string) {
	m.mu.Lock()
	c, ok := m.controllers[ownerID]
	delete(m.controllers, ownerID)
	m.mu.Unlock()
	if ok {
		c.Close()
	}
}

// Shutdown closes every controller.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	controllers := m.controllers
	m.controllers = map[string]*Controller{}
	m.mu.Unlock()
	for _, c := range controllers {
		c.Close()
	}
}
