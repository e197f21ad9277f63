package graph

import (
	"strings"
	"time"

	"github.com/emberhaus/ember-core/internal/platform"
)

// Entity is one normalized endpoint on the remote platform.
type Entity struct {
	ID                string    `json:"id"`
	Domain            string    `json:"domain"`
	Name              string    `json:"name"`
	DeviceClass       string    `json:"device_class,omitempty"`
	AreaID            string    `json:"area_id,omitempty"`
	DeviceID          string    `json:"device_id,omitempty"`
	SupportedFeatures int64     `json:"supported_features"`
	Available         bool      `json:"available"`
	State             string    `json:"state"`
	LastUpdated       time.Time `json:"last_updated"`
}

// Service is one normalized callable capability.
type Service struct {
	Domain         string              `json:"domain"`
	Name           string              `json:"name"`
	RequiredFields []string            `json:"required_fields,omitempty"`
	Fields         map[string]platform.ServiceField `json:"fields,omitempty"`
	Target         map[string]any      `json:"target,omitempty"`
}

// Key returns the capability string for the service.
func (s *Service) Key() string {
	return s.Domain + "." + s.Name
}

// unavailableStates are platform states meaning the entity cannot be acted on.
var unavailableStates = map[string]bool{
	"unavailable": true,
	"unknown":     true,
}

// NormalizeEntity converts a raw platform state into a graph entity.
// The domain is the entity id prefix; device linkage, area, device class,
// and the feature bitmask come from well-known attributes.
func NormalizeEntity(st platform.EntityState) Entity {
	domain := st.EntityID
	if i := strings.IndexByte(st.EntityID, '.'); i > 0 {
		domain = st.EntityID[:i]
	}

	e := Entity{
		ID:          st.EntityID,
		Domain:      domain,
		Available:   !unavailableStates[st.State],
		State:       st.State,
		LastUpdated: st.LastUpdated,
	}

	if v, ok := st.Attributes["friendly_name"].(string); ok {
		e.Name = v
	}
	if v, ok := st.Attributes["device_class"].(string); ok {
		e.DeviceClass = v
	}
	if v, ok := st.Attributes["area_id"].(string); ok {
		e.AreaID = v
	}
	if v, ok := st.Attributes["device_id"].(string); ok {
		e.DeviceID = v
	}
	if v, ok := st.Attributes["supported_features"].(float64); ok {
		e.SupportedFeatures = int64(v)
	}

	return e
}

// NormalizeService converts a raw service definition into a graph service.
// Required fields are extracted into a flat list for fast validation.
func NormalizeService(domain, name string, def platform.ServiceDef) Service {
	s := Service{
		Domain: domain,
		Name:   name,
		Fields: def.Fields,
		Target: def.Target,
	}
	for field, spec := range def.Fields {
		if spec.Required {
			s.RequiredFields = append(s.RequiredFields, field)
		}
	}
	return s
}

// SplitCapability splits a "domain.service" capability string.
func SplitCapability(capability string) (domain, service string, err error) {
	i := strings.IndexByte(capability, '.')
	if i <= 0 || i == len(capability)-1 {
		return "", "", ErrInvalidCapability
	}
	return capability[:i], capability[i+1:], nil
}
