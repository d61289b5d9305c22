package common

// Static field manifests per entity type. An INSERTED change is treated as
// touching every field, so the aggregate package resolves its changed-field
// set from these tables instead of whatever subset the provider reported.
var fieldManifests = map[string][]string{
	EntityCandidate: {
		"id", "firstName", "lastName", "name", "email", "email2", "phone",
		"mobile", "address", "status", "source", "dateAdded", "dateLastModified",
		"employmentPreference", "desiredLocations", "salary", "salaryLowest",
		"dayRate", "hourlyRate", "willRelocate", "skillSet", "experience",
		"educationDegree", "owner", "isDeleted",
	},
	EntityJobOrder: {
		"id", "title", "status", "employmentType", "payRate", "salary",
		"salaryUnit", "clientCorporation", "clientContact", "address",
		"description", "publicDescription", "numOpenings", "startDate",
		"dateAdded", "dateLastModified", "durationWeeks", "hoursPerWeek",
		"onSite", "owner", "isOpen", "isDeleted",
	},
	EntityTearsheet: {
		"id", "name", "description", "candidates", "jobOrders", "clientContacts",
		"owner", "dateAdded", "dateLastModified", "isPrivate", "isDeleted",
	},
	EntityJobSubmission: {
		"id", "candidate", "jobOrder", "status", "source", "payRate",
		"billRate", "salary", "dateAdded", "dateLastModified", "sendingUser",
		"startDate", "endDate", "isDeleted",
	},
	EntityClientContact: {
		"id", "firstName", "lastName", "name", "email", "phone", "mobile",
		"address", "status", "clientCorporation", "owner", "dateAdded",
		"dateLastModified", "isDeleted",
	},
	EntityPlacement: {
		"id", "candidate", "jobOrder", "status", "dateBegin", "dateEnd",
		"payRate", "billRate", "salary", "employmentType", "dateAdded", "isDeleted",
	},
}

// AssociationField maps entity types to the field carrying their large
// many-to-many member list. Only tearsheets carry one today.
var AssociationField = map[string]string{
	EntityTearsheet: "candidates",
}

// FieldManifest returns the full field list for an entity type, or nil when
// the type is unknown.
func FieldManifest(entityType string) []string {
	m, ok := fieldManifests[entityType]
	if !ok {
		return nil
	}
	out := make([]string, len(m))
	copy(out, m)
	return out
}

// KnownEntityType reports whether a field manifest exists for the type.
func KnownEntityType(entityType string) bool {
	_, ok := fieldManifests[entityType]
	return ok
}

// MandatoryField is one entry of a per-entity-type required-field table.
// Get and Set operate on the raw payload map so no runtime introspection is
// needed to resolve a field by name.
type MandatoryField struct {
	Name string
	Get  func(payload map[string]any) string
	Set  func(payload map[string]any, value string)
}

func stringField(name string) MandatoryField {
	return MandatoryField{
		Name: name,
		Get: func(p map[string]any) string {
			s, _ := p[name].(string)
			return s
		},
		Set: func(p map[string]any, v string) {
			p[name] = v
		},
	}
}

// nestedField addresses a string leaf one level down, e.g. address.city.
func nestedField(parent, name string) MandatoryField {
	return MandatoryField{
		Name: parent + "." + name,
		Get: func(p map[string]any) string {
			sub, _ := p[parent].(map[string]any)
			if sub == nil {
				return ""
			}
			s, _ := sub[name].(string)
			return s
		},
		Set: func(p map[string]any, v string) {
			sub, _ := p[parent].(map[string]any)
			if sub == nil {
				sub = make(map[string]any)
				p[parent] = sub
			}
			sub[name] = v
		},
	}
}

// mandatoryFields lists the required fields for entity types that go through
// the manual validated flow. Order matters only for stable missing-field
// reporting.
var mandatoryFields = map[string][]MandatoryField{
	EntityJobOrder: {
		stringField("title"),
		stringField("payRate"),
		stringField("employmentType"),
		nestedField("clientCorporation", "id"),
		nestedField("address", "city"),
		nestedField("address", "state"),
	},
}

// MandatoryFields returns the required-field table for an entity type.
// Types without a manual flow return nil.
func MandatoryFields(entityType string) []MandatoryField {
	return mandatoryFields[entityType]
}
