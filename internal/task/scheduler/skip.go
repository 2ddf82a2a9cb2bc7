package scheduler

// SkipPredicate vetoes a due execution. A skipped execution counts as
// consumed; the invoker is not called. Skip runs while the job's trigger is
// locked and must not call back into the Service.
type SkipPredicate interface {
	Skip(exec Execution) bool
}

type SkipFunc func(exec Execution) bool

func (f SkipFunc) Skip(exec Execution) bool { return f(exec) }

// NeverSkip is the default predicate.
type NeverSkip struct{}

func (NeverSkip) Skip(Execution) bool { return false }
