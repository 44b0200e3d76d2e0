package pool

// roundRobin picks connections in rotation, preferring READY ones. It is not safe for
// concurrent use; Pool serializes calls with its mutex.
type roundRobin struct {
	cursor int
}

// pick scans from the cursor for a READY connection and moves the cursor past it. If no
// connection is READY it returns the connection at the cursor, advances the cursor by one
// and returns ready == false.
func (r *roundRobin) pick(conns []*Connection) (c *Connection, ready bool) {
	n := len(conns)
	if n == 0 {
		return nil, false
	}
	start := r.cursor % n
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		if conns[idx].State() == StateReady {
			r.cursor = (idx + 1) % n
			return conns[idx], true
		}
	}
	r.cursor = (start + 1) % n
	return conns[start], false
}
