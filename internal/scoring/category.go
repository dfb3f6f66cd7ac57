package scoring

// SourceCategory identifies the channel a piece of evidence came from.
// The set is closed: anything outside it scores with the fallback weight
// rather than failing (captures from new integrations must never break
// scoring).
type SourceCategory string

const (
	SourceManual           SourceCategory = "manual"
	SourceChat             SourceCategory = "chat"
	SourceWiki             SourceCategory = "wiki"
	SourceAnalyticsTable   SourceCategory = "analytics-table"
	SourceSpreadsheet      SourceCategory = "spreadsheet"
	SourceSupportTicket    SourceCategory = "support-ticket"
	SourceSalesCall        SourceCategory = "sales-call"
	SourceInterview        SourceCategory = "interview"
	SourceCustomerSupport  SourceCategory = "customer-support"
	SourceProductAnalytics SourceCategory = "product-analytics"
	SourceSocial           SourceCategory = "social"
)

// AllSourceCategories lists every known category, in display order.
var AllSourceCategories = []SourceCategory{
	SourceManual,
	SourceChat,
	SourceWiki,
	SourceAnalyticsTable,
	SourceSpreadsheet,
	SourceSupportTicket,
	SourceSalesCall,
	SourceInterview,
	SourceCustomerSupport,
	SourceProductAnalytics,
	SourceSocial,
}

// directVoiceCategories are channels where the user speaks in their own
// words. At least one of these must appear in a claim context for the
// direct-voice quality gate to pass.
var directVoiceCategories = map[SourceCategory]bool{
	SourceInterview:       true,
	SourceSupportTicket:   true,
	SourceCustomerSupport: true,
}

// IsKnown reports whether c is one of the closed enumeration values.
func (c SourceCategory) IsKnown() bool {
	for _, k := range AllSourceCategories {
		if c == k {
			return true
		}
	}
	return false
}

// IsDirectVoice reports whether c carries direct user voice.
func (c SourceCategory) IsDirectVoice() bool {
	return directVoiceCategories[c]
}
