package common

import "errors"

// ErrModulePaused is returned by Guard when the administrator has halted a
// module. Module-specific pause errors wrap it.
var ErrModulePaused = errors.New("module paused")

// PauseView exposes the pause switch of one or more native modules.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard returns ErrModulePaused when p reports the module as paused. A nil
// view never blocks.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
