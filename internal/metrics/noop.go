package metrics

// NoopCollector is a no-op implementation of the Collector interface. All
// methods are empty stubs that do nothing.
type NoopCollector struct{}

func (n *NoopCollector) ConnectionOpened()      {}
func (n *NoopCollector) ConnectionClosed()      {}
func (n *NoopCollector) LoginAttempt(bool)      {}
func (n *NoopCollector) RegistrationCompleted() {}
func (n *NoopCollector) RPCCalled(string)       {}
func (n *NoopCollector) AdminCheckDenied()      {}
