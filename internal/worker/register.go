package worker

// RegisterDefaults registers the four built-in worker kinds under their
// protocol msg names. Called once at startup; a second call on the same
// Registry panics, per Register's total-registration contract.
func RegisterDefaults(r *Registry) {
	r.Register("ping", NewPing)
	r.Register("wait", NewWait)
	r.Register("stat", NewStat)
	r.Register("cksum", NewCksum)
}
