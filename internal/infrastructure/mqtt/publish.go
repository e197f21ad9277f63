package mqtt

import "fmt"

// maxPayloadSize caps publishes at 1 MB. Control-plane events are tiny;
// anything larger is a bug upstream.
const maxPayloadSize = 1 << 20

// Publish sends a payload to a topic and waits for broker acknowledgment
// at the configured QoS.
func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	if err := validatePublish(topic, byte(c.cfg.QoS), payload); err != nil {
		return err
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, byte(c.cfg.QoS), retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout on topic %s", ErrPublishFailed, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: topic %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

func validatePublish(topic string, qos byte, payload []byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > 2 {
		return fmt.Errorf("%w: %d", ErrInvalidQoS, qos)
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	return nil
}
