package port

// AuthMetrics captures telemetry hooks for the authentication core.
type AuthMetrics interface {
	ObserveLogin(outcome string)
	ObserveRefresh(outcome string)
	ObserveVerify(outcome string)
	IncRateLimited(scope string)
	IncSessionsEvicted(count int)
	IncTokensRevoked(reason string)
	IncKeyRotation(outcome string)
	IncTamper(code string)
}

// NopAuthMetrics discards every observation.
type NopAuthMetrics struct{}

func (NopAuthMetrics) ObserveLogin(string)     {}
func (NopAuthMetrics) ObserveRefresh(string)   {}
func (NopAuthMetrics) ObserveVerify(string)    {}
func (NopAuthMetrics) IncRateLimited(string)   {}
func (NopAuthMetrics) IncSessionsEvicted(int)  {}
func (NopAuthMetrics) IncTokensRevoked(string) {}
func (NopAuthMetrics) IncKeyRotation(string)   {}
func (NopAuthMetrics) IncTamper(string)        {}
