package sds

import (
	"github.com/ValentinKolb/sdsio/rpc/common"
	"sync"
)

// --------------------------------------------------------------------------
// Process wide default service
// --------------------------------------------------------------------------

var (
	defaultMu  sync.Mutex
	defaultSvc *Service
)

// InitDefault initializes the process wide service used by the package level
// functions. It fails with ErrAlreadyInitialized until UninitDefault is called.
func InitDefault(cfg common.ServiceConfig, opts ...Option) error {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultSvc != nil {
		return opErr("init", "", ErrAlreadyInitialized)
	}
	svc, err := Init(cfg, opts...)
	if err != nil {
		return err
	}
	defaultSvc = svc
	return nil
}

// UninitDefault tears the default service down. The service is gone
// afterwards even if the returned error reports an incomplete shutdown.
func UninitDefault() error {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultSvc == nil {
		return opErr("uninit", "", ErrNotInitialized)
	}
	err := defaultSvc.Uninit()
	defaultSvc = nil
	return err
}

// Default returns the default service or nil
func Default() *Service {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultSvc
}

// Open opens a stream on the default service
func Open(name string, mode common.Mode) (Handle, error) {
	svc := Default()
	if svc == nil {
		return 0, opErr("open", name, ErrNotInitialized)
	}
	return svc.Open(name, mode)
}

// Close closes a stream of the default service
func Close(h Handle) error {
	svc := Default()
	if svc == nil {
		return opErr("close", "", ErrNotInitialized)
	}
	return svc.Close(h)
}

// Write writes to a stream of the default service
func Write(h Handle, p []byte) (int, error) {
	svc := Default()
	if svc == nil {
		return 0, opErr("write", "", ErrNotInitialized)
	}
	return svc.Write(h, p)
}

// Read reads from a stream of the default service
func Read(h Handle, p []byte) (int, error) {
	svc := Default()
	if svc == nil {
		return 0, opErr("read", "", ErrNotInitialized)
	}
	return svc.Read(h, p)
}
