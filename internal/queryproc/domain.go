package queryproc

import "regexp"

// techniqueIDPattern matches structured technique identifiers such as
// T1078 or T1078.001 (a capital letter, four digits, optional dotted
// sub-identifier).
var techniqueIDPattern = regexp.MustCompile(`\b[A-Z]\d{4}(?:\.\d{1,3})?\b`)

// productAliases maps product names to their known aliases. When a product
// is mentioned, aliases are appended as an OR-disjunction so keyword search
// matches documents that use any spelling.
var productAliases = map[string][]string{
	"advanced analytics": {"aa", "analytics engine", "behavior analytics"},
	"data lake":          {"dl", "log repository", "event store"},
	"cloud platform":     {"platform", "cloud security"},
	"case management":    {"case manager", "incident management"},
	"entity analytics":   {"entity behavior", "entity profiling"},
	"threat hunter":      {"threat hunting", "hunting"},
	"incident responder": {"incident response", "response"},
	"threat detection":   {"detection", "detection rules"},
}

// acronymExpansions maps security acronyms to their long forms.
var acronymExpansions = map[string]string{
	"ueba": "user and entity behavior analytics",
	"siem": "security information and event management",
	"soar": "security orchestration automation and response",
	"edr":  "endpoint detection and response",
	"xdr":  "extended detection and response",
	"ndr":  "network detection and response",
	"mfa":  "multi-factor authentication",
	"iam":  "identity and access management",
	"pam":  "privileged access management",
	"dlp":  "data loss prevention",
}

// technicalTerms indicate code- or parser-related queries, which are
// embedded in the code representation space.
var technicalTerms = []string{
	"parser", "function", "rule", "model", "code", "script", "api",
	"config", "configuration", "parameter", "syntax", "format", "regex",
	"implementation", "json", "xml", "csv", "field", "mapping",
}

// conceptualTerms indicate security-concept queries. They share keyword
// priority with technical terms during extraction.
var conceptualTerms = []string{
	"attack", "threat", "risk", "vuln", "incident", "breach", "malware",
	"ransomware", "phishing", "lateral", "privilege", "escalation", "detection",
	"monitor", "alert", "investigation", "response", "strategy", "framework",
}

// stopWords are removed during keyword extraction.
var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "in": {}, "on": {}, "at": {}, "for": {},
	"with": {}, "by": {}, "to": {}, "of": {}, "and": {}, "or": {}, "is": {},
	"are": {}, "was": {}, "were": {}, "be": {}, "been": {}, "being": {},
	"have": {}, "has": {}, "had": {}, "do": {}, "does": {}, "did": {},
	"but": {}, "if": {}, "then": {}, "else": {}, "when": {}, "where": {},
	"which": {}, "who": {}, "whom": {}, "whose": {}, "what": {}, "how": {},
	"why": {}, "can": {}, "could": {}, "may": {}, "might": {}, "shall": {},
	"should": {}, "will": {}, "would": {}, "that": {}, "this": {},
	"these": {}, "those": {}, "i": {}, "you": {}, "he": {}, "she": {},
	"it": {}, "we": {}, "they": {}, "me": {}, "him": {}, "her": {},
	"us": {}, "them": {},
}
