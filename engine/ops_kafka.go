package engine

import (
	"fmt"

	"simlink/config"
	"simlink/kafka"
)

// CreateKafka creates a new Kafka cluster, saves config, and adds to the manager.
func (e *Engine) CreateKafka(req KafkaCreateRequest) error {
	if req.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if len(req.Brokers) == 0 {
		return fmt.Errorf("%w: at least one broker is required", ErrInvalidInput)
	}
	if e.cfg.FindKafka(req.Name) != nil {
		return fmt.Errorf("%w: Kafka cluster '%s'", ErrAlreadyExists, req.Name)
	}

	autoCreate := req.AutoCreateTopics

	kafkaCfg := config.KafkaConfig{
		Name:             req.Name,
		Brokers:          req.Brokers,
		UseTLS:           req.UseTLS,
		TLSSkipVerify:    req.TLSSkipVerify,
		SASLMechanism:    req.SASLMechanism,
		Username:         req.Username,
		Password:         req.Password,
		Topic:            req.Topic,
		Selector:         req.Selector,
		AutoCreateTopics: &autoCreate,
		Enabled:          req.Enabled,
		RequiredAcks:     req.RequiredAcks,
		MaxRetries:       req.MaxRetries,
		RetryBackoff:     req.RetryBackoff,
	}

	e.cfg.Lock()
	e.cfg.AddKafka(kafkaCfg)
	if err := e.saveConfig(); err != nil {
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}

	e.GetKafkaMgr().AddCluster(kafka.FromConfig(e.cfg.FindKafka(req.Name), e.cfg.Namespace))

	if req.Enabled {
		e.connectKafka(req.Name)
	}

	e.emit(EventKafkaCreated, ServiceEvent{Name: req.Name})
	return nil
}

// UpdateKafka updates a Kafka cluster, saves config, and recreates the producer.
func (e *Engine) UpdateKafka(name string, req KafkaUpdateRequest) error {
	if len(req.Brokers) == 0 {
		return fmt.Errorf("%w: at least one broker is required", ErrInvalidInput)
	}
	existing := e.cfg.FindKafka(name)
	if existing == nil {
		return fmt.Errorf("%w: Kafka cluster '%s'", ErrNotFound, name)
	}

	// Preserve password if not provided
	password := req.Password
	if password == "" {
		password = existing.Password
	}

	autoCreate := req.AutoCreateTopics

	updated := config.KafkaConfig{
		Name:             name,
		Brokers:          req.Brokers,
		UseTLS:           req.UseTLS,
		TLSSkipVerify:    req.TLSSkipVerify,
		SASLMechanism:    req.SASLMechanism,
		Username:         req.Username,
		Password:         password,
		Topic:            req.Topic,
		Selector:         req.Selector,
		AutoCreateTopics: &autoCreate,
		Enabled:          req.Enabled,
		RequiredAcks:     req.RequiredAcks,
		MaxRetries:       req.MaxRetries,
		RetryBackoff:     req.RetryBackoff,
	}

	e.cfg.Lock()
	e.cfg.UpdateKafka(name, updated)
	if err := e.saveConfig(); err != nil {
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}

	e.GetKafkaMgr().RemoveCluster(name)
	e.GetKafkaMgr().AddCluster(kafka.FromConfig(e.cfg.FindKafka(name), e.cfg.Namespace))

	if req.Enabled {
		e.connectKafka(name)
	}

	e.emit(EventKafkaUpdated, ServiceEvent{Name: name})
	return nil
}

// DeleteKafka removes a Kafka cluster from config and the running manager.
func (e *Engine) DeleteKafka(name string) error {
	e.cfg.Lock()
	if !e.cfg.RemoveKafka(name) {
		e.cfg.Unlock()
		return fmt.Errorf("%w: Kafka cluster '%s'", ErrNotFound, name)
	}

	if err := e.saveConfig(); err != nil {
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}

	e.GetKafkaMgr().RemoveCluster(name)

	e.emit(EventKafkaDeleted, ServiceEvent{Name: name})
	return nil
}

// ConnectKafka connects a Kafka cluster.
func (e *Engine) ConnectKafka(name string) error {
	if e.GetKafkaMgr().GetProducer(name) == nil {
		return fmt.Errorf("%w: Kafka cluster '%s'", ErrNotFound, name)
	}
	if err := e.GetKafkaMgr().Connect(name); err != nil {
		return err
	}
	e.afterSinkStart()
	e.emit(EventKafkaConnected, ServiceEvent{Name: name})
	return nil
}

// DisconnectKafka disconnects a Kafka cluster.
func (e *Engine) DisconnectKafka(name string) {
	e.GetKafkaMgr().Disconnect(name)
	e.emit(EventKafkaDisconnected, ServiceEvent{Name: name})
}

func (e *Engine) connectKafka(name string) {
	go func() {
		if err := e.GetKafkaMgr().Connect(name); err != nil {
			e.logFn("Kafka %s failed to connect: %v", name, err)
			return
		}
		e.afterSinkStart()
	}()
}
