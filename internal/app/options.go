package app

// Option configures optional Service collaborators.
type Option func(*Service)

// WithAgent sets the counter-offer agent.
func WithAgent(agent Agent) Option {
	return func(s *Service) {
		s.agent = agent
	}
}

// WithPublisher sets the timeline feed publisher.
func WithPublisher(publisher TimelinePublisher) Option {
	return func(s *Service) {
		s.publisher = publisher
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics Metrics) Option {
	return func(s *Service) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEventIDGenerator overrides the ledger event id generator.
func WithEventIDGenerator(gen IDGenerator) Option {
	return func(s *Service) {
		if gen != nil {
			s.eventIDGen = gen
		}
	}
}
