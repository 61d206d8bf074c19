package common

import "errors"

// ErrModulePaused is returned by Guard when the named module is halted.
var ErrModulePaused = errors.New("module paused")

// ModuleEscrow is the pause key consulted by the escrow engine.
const ModuleEscrow = "escrow"

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
