package profile

import "github.com/jbellec/veilguard/internal/guard"

// Built-in guard profiles and pattern catalog, used when no profile
// file or database is configured. The catalog leans French (NIR, FR
// phone formats) because that is the deployment this grew out of;
// everything is overridable through the store.

// DefaultPatterns returns the seed regex catalog.
func DefaultPatterns() []guard.PatternDef {
	return []guard.PatternDef{
		{
			Name:         "email",
			DisplayName:  "Email address",
			Pattern:      `[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`,
			Description:  "Standard email address",
			TestExamples: []string{"john.doe@mail.com"},
			Flags:        "i",
		},
		{
			Name:         "french_phone",
			DisplayName:  "Phone number (FR)",
			Pattern:      `(?:\+33\s?|0)[1-9](?:[ .-]?\d{2}){4}`,
			Description:  "French phone number, assorted separators",
			TestExamples: []string{"+33 6 12 34 56 78", "06.12.34.56.78"},
		},
		{
			Name:         "ip_address",
			DisplayName:  "IP address",
			Pattern:      `\b(?:(?:25[0-5]|2[0-4]\d|[01]?\d\d?)\.){3}(?:25[0-5]|2[0-4]\d|[01]?\d\d?)\b`,
			Description:  "IPv4 address",
			TestExamples: []string{"192.168.1.10"},
		},
		{
			Name:         "date_generic",
			DisplayName:  "Date",
			Pattern:      `\b(?:\d{4}[-/]\d{2}[-/]\d{2}|\d{2}/\d{2}/\d{4})\b`,
			Description:  "yyyy-mm-dd or dd/mm/yyyy",
			TestExamples: []string{"1990-07-12", "15/03/1980"},
		},
		{
			Name:         "fr_nir",
			DisplayName:  "Social security number (FR)",
			Pattern:      `\b[12]\s?\d{2}\s?\d{2}\s?\d{2}\s?\d{3}\s?\d{3}\s?\d{2}\b`,
			Description:  "French NIR",
			TestExamples: []string{"1 94 02 75 123 456 19"},
		},
		{
			Name:         "passport_generic",
			DisplayName:  "Passport",
			Pattern:      `\b[A-Z]{2}\d{7}\b`,
			Description:  "Simplified passport number",
			TestExamples: []string{"FR1234567"},
			Flags:        "-",
		},
		{
			Name:         "person_name",
			DisplayName:  "Person name",
			Pattern:      `\b[A-ZÀ-Ý][a-zà-ÿ]+(?:-[A-ZÀ-Ý][a-zà-ÿ]+)?\s[A-ZÀ-Ý][a-zà-ÿ]+\b`,
			Description:  "Capitalized first and last name, hyphenated first names included",
			TestExamples: []string{"Jean Dupont", "Marie-Claire Dubois"},
			Flags:        "-",
		},
		{
			Name:         "credit_card",
			DisplayName:  "Payment card",
			Pattern:      `\b\d{4}[ -]?\d{4}[ -]?\d{4}[ -]?\d{4}\b`,
			Description:  "16-digit card number",
			TestExamples: []string{"4532 9876 1122 4456"},
		},
		{
			Name:         "expiry_mm_yy",
			DisplayName:  "Card expiry",
			Pattern:      `\b(0[1-9]|1[0-2])/(\d{2})\b`,
			Description:  "MM/YY expiry date",
			TestExamples: []string{"08/27"},
		},
		{
			Name:         "cvv_3_4",
			DisplayName:  "Security code",
			Pattern:      `\b\d{3,4}\b`,
			Description:  "3-4 digit CVV, broad on purpose",
			TestExamples: []string{"381"},
		},
		{
			Name:         "iban",
			DisplayName:  "IBAN",
			Pattern:      `\b[A-Z]{2}\d{2}[0-9A-Z]{11,28}\b`,
			Description:  "Compact IBAN",
			TestExamples: []string{"FR7630006000011234567890189"},
			Flags:        "-",
		},
		{
			Name:         "account_number_generic",
			DisplayName:  "Account number",
			Pattern:      `\b\d{8,16}\b`,
			Description:  "Plain account number",
			TestExamples: []string{"0123456789"},
		},
	}
}

// DefaultProfiles returns the seed guard profiles.
func DefaultProfiles() []guard.Profile {
	return []guard.Profile{
		{
			Name:        "InfoPerso",
			DisplayName: "Contact details",
			Description: "Contact and location information",
			Fields: []guard.FieldConfig{
				{FieldName: "email", DisplayName: "Email address", DetectionType: guard.DetectionRegex, PatternRef: "email", Priority: 10, Example: "john.doe@mail.com"},
				{FieldName: "phone", DisplayName: "Phone number", DetectionType: guard.DetectionRegex, PatternRef: "french_phone", Priority: 10, Example: "+33 6 12 34 56 78"},
				{FieldName: "address", DisplayName: "Postal address", DetectionType: guard.DetectionNER, EntityModel: "fr_core", EntityType: "LOCATION", ConfidenceThreshold: 0.6, Priority: 20, Example: "12 rue de la Paix, 75002 Paris"},
				{FieldName: "company", DisplayName: "Company", DetectionType: guard.DetectionNER, EntityModel: "fr_core", EntityType: "ORGANIZATION", ConfidenceThreshold: 0.6, Priority: 20, Example: "Acme SARL"},
				{FieldName: "ip_address", DisplayName: "IP address", DetectionType: guard.DetectionRegex, PatternRef: "ip_address", Priority: 10, Example: "192.168.1.10"},
			},
		},
		{
			Name:        "TypeA",
			DisplayName: "Personal identity",
			Description: "Personally identifying data",
			Fields: []guard.FieldConfig{
				{FieldName: "name", DisplayName: "Full name", DetectionType: guard.DetectionHybrid, PatternRef: "person_name", EntityModel: "fr_core", EntityType: "PERSON", ConfidenceThreshold: 0.6, Priority: 20, Example: "Jean Dupont"},
				{FieldName: "birth_date", DisplayName: "Birth date", DetectionType: guard.DetectionRegex, PatternRef: "date_generic", Priority: 10, Example: "15/03/1980"},
				{FieldName: "social_security", DisplayName: "Social security number", DetectionType: guard.DetectionRegex, PatternRef: "fr_nir", Priority: 5, Example: "1 94 02 75 123 456 19"},
				{FieldName: "passport", DisplayName: "Passport", DetectionType: guard.DetectionRegex, PatternRef: "passport_generic", Priority: 5, Example: "FR1234567"},
			},
		},
		{
			Name:        "TypeB",
			DisplayName: "Financial data",
			Description: "Banking and payment information",
			Fields: []guard.FieldConfig{
				{FieldName: "credit_card", DisplayName: "Payment card", DetectionType: guard.DetectionRegex, PatternRef: "credit_card", Priority: 5, Example: "4532 9876 1122 4456"},
				{FieldName: "expiry_date", DisplayName: "Card expiry", DetectionType: guard.DetectionRegex, PatternRef: "expiry_mm_yy", Priority: 20, Example: "08/27"},
				{FieldName: "cvv", DisplayName: "Security code", DetectionType: guard.DetectionRegex, PatternRef: "cvv_3_4", Priority: 40, Example: "381"},
				{FieldName: "iban", DisplayName: "IBAN", DetectionType: guard.DetectionRegex, PatternRef: "iban", Priority: 5, Example: "FR7630006000011234567890189"},
				{FieldName: "account_number", DisplayName: "Account number", DetectionType: guard.DetectionRegex, PatternRef: "account_number_generic", Priority: 30, Example: "0123456789"},
			},
		},
	}
}
