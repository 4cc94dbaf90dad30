package service

import "go.trai.ch/xnail/internal/engine/pool"

// Pools returns the compilation and evaluation pools of s.
func Pools(s *Service) (compile, eval *pool.Pool) {
	return s.res.compile, s.res.eval
}
