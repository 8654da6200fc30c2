package projector

import "github.com/quintans/projector/eventstore"

// querySpec describes what a projection consumes: exactly one of
// queryAll or queryStreams is populated by the time Run is reached.
type querySpec struct {
	queryAll     bool
	queryStreams []string
	matchers     map[string]eventstore.Matcher
}

func (q querySpec) configured() bool {
	return q.queryAll || len(q.queryStreams) > 0
}

// streamsFrom resolves the concrete list of streams to query this
// pass: either every stream the store currently knows about (queryAll)
// or the fixed list given at configuration time.
func (q querySpec) streamsFrom(all []string) []string {
	if q.queryAll {
		return all
	}
	return q.queryStreams
}

func (q querySpec) matcherFor(stream string) eventstore.Matcher {
	return q.matchers[stream]
}
