package datasets

// Concept URIs fields may refer to through x-refersTo.
const (
	ConceptLatitude      = "http://schema.org/latitude"
	ConceptLongitude     = "http://schema.org/longitude"
	ConceptLatLon        = "http://www.w3.org/2003/01/geo/wgs84_pos#lat_long"
	ConceptGeometry      = "https://purl.org/geojson/vocab#geometry"
	ConceptDocument      = "http://schema.org/DigitalDocument"
	ConceptIdentifier    = "http://www.w3.org/2000/01/rdf-schema#label"
	ConceptStartDate     = "https://schema.org/startDate"
	ConceptAddress       = "http://schema.org/address"
	ConceptPostalCode    = "http://schema.org/postalCode"
	ConceptCityCode      = "http://rdf.insee.fr/def/geo#codeCommune"
	ConceptDescription   = "http://schema.org/description"
	ConceptIntegerNumber = "http://schema.org/Integer"
)

// conceptTypes forces a JSON type on fields annotated with some concepts.
var conceptTypes = map[string]Field{
	ConceptLatitude:   {Type: TypeNumber},
	ConceptLongitude:  {Type: TypeNumber},
	ConceptLatLon:     {Type: TypeString},
	ConceptGeometry:   {Type: TypeString},
	ConceptPostalCode: {Type: TypeString},
	ConceptCityCode:   {Type: TypeString},
	ConceptStartDate:  {Type: TypeString, Format: FormatDateTime},
	ConceptDocument:   {Type: TypeString},
}

// ConceptType returns the type forced by concept, if any.
func ConceptType(concept string) (typ, format string, ok bool) {
	f, ok := conceptTypes[concept]
	if !ok {
		return "", "", false
	}
	return f.Type, f.Format, true
}

// GeoConcepts lists concepts that trigger derived geo fields.
var GeoConcepts = []string{ConceptLatitude, ConceptLongitude, ConceptLatLon, ConceptGeometry}
