package cas

// PropertyMap translates normalized profile field names to the attribute
// names a particular CAS server releases.
// Absent entries default to the field name itself
type PropertyMap map[string]string

// Email is a single address released for the user
type Email struct {
	Value string `json:"value"`
	Type  string `json:"type"`
}

// Name is the structured name portion of a profile
type Name struct {
	FamilyName string `json:"familyName"`
	GivenName  string `json:"givenName"`
	MiddleName string `json:"middleName"`
}

// Profile is the normalized identity record built from the extended
// attributes the CAS server returns alongside the username.
// Name and Emails are always present (possibly empty) so callers can rely
// on their shape; attributes that don't correspond to a declared field are
// carried through verbatim in Raw so server-specific data is never dropped
type Profile struct {
	Provider    string                 `json:"provider"`
	ID          string                 `json:"id"`
	DisplayName string                 `json:"displayName"`
	Name        Name                   `json:"name"`
	Emails      []Email                `json:"emails"`
	PGTIOU      string                 `json:"-"`
	Raw         map[string]interface{} `json:"raw,omitempty"`
}

// MapProfile builds a Profile for username from the extended attributes of a
// validation response. Attribute values are either scalars or ordered
// sequences of scalars (servers vary in shape); declared single-valued fields
// take the first element of a sequence. The input map is never mutated
func MapProfile(username string, attributes map[string]interface{}, propertyMap PropertyMap, pgtIOU string) *Profile {
	// Work on a private copy so consumed attributes can be removed without
	// aliasing a caller-shared map
	remaining := make(map[string]interface{}, len(attributes))
	for name, value := range attributes {
		remaining[name] = value
	}

	profile := &Profile{
		Provider: "cas",
		Emails:   []Email{},
		PGTIOU:   pgtIOU,
	}

	profile.Name.GivenName = consumeScalar(remaining, propertyMap, "givenName")
	profile.Name.FamilyName = consumeScalar(remaining, propertyMap, "familyName")
	profile.Name.MiddleName = consumeScalar(remaining, propertyMap, "middleName")

	profile.Emails = consumeEmails(remaining, propertyMap)

	profile.ID = consumeScalar(remaining, propertyMap, "id")
	if profile.ID == "" {
		profile.ID = username
	}

	profile.DisplayName = consumeScalar(remaining, propertyMap, "displayName")
	if profile.DisplayName == "" {
		profile.DisplayName = username
	}

	// Everything not consumed above passes through under its original name
	if len(remaining) > 0 {
		profile.Raw = remaining
	}

	return profile
}

// consumeScalar resolves the attribute backing a declared profile field,
// removes it from the working copy, and reduces it to a single scalar
func consumeScalar(attributes map[string]interface{}, propertyMap PropertyMap, field string) string {
	attrName := field
	if mapped, ok := propertyMap[field]; ok {
		attrName = mapped
	}

	value, ok := attributes[attrName]
	if !ok {
		return ""
	}
	delete(attributes, attrName)

	return firstScalar(value)
}

// firstScalar extracts a scalar from a scalar-or-sequence attribute value,
// taking the first element of a sequence
func firstScalar(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case []string:
		if len(v) > 0 {
			return v[0]
		}
	case []interface{}:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return s
			}
		}
	}

	return ""
}

// consumeEmails resolves and removes the email attribute, normalizing its
// value into an ordered list of records. Plain addresses are wrapped with
// the "default" type; already-structured records are kept unchanged
func consumeEmails(attributes map[string]interface{}, propertyMap PropertyMap) []Email {
	attrName := "emails"
	if mapped, ok := propertyMap["emails"]; ok {
		attrName = mapped
	}

	value, ok := attributes[attrName]
	if !ok {
		return []Email{}
	}
	delete(attributes, attrName)

	switch v := value.(type) {
	case string:
		return []Email{{Value: v, Type: "default"}}
	case []string:
		emails := make([]Email, 0, len(v))
		for _, address := range v {
			emails = append(emails, Email{Value: address, Type: "default"})
		}
		return emails
	case []Email:
		return v
	case []interface{}:
		emails := make([]Email, 0, len(v))
		for _, entry := range v {
			switch e := entry.(type) {
			case string:
				emails = append(emails, Email{Value: e, Type: "default"})
			case Email:
				emails = append(emails, e)
			}
		}
		return emails
	}

	return []Email{}
}
