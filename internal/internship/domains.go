package internship

// Domain 是岗位领域目录中的一项。
type Domain struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Icon string `json:"icon"`
}

var domains = []Domain{
	{ID: "software", Name: "Software Development", Icon: "💻"},
	{ID: "data", Name: "Data Science & Analytics", Icon: "📊"},
	{ID: "design", Name: "UI/UX Design", Icon: "🎨"},
	{ID: "marketing", Name: "Digital Marketing", Icon: "📱"},
	{ID: "content", Name: "Content Writing", Icon: "✍️"},
	{ID: "finance", Name: "Finance & Accounting", Icon: "💰"},
	{ID: "hr", Name: "Human Resources", Icon: "👥"},
	{ID: "operations", Name: "Operations", Icon: "⚙️"},
	{ID: "sales", Name: "Sales & BD", Icon: "🤝"},
	{ID: "research", Name: "Research", Icon: "🔬"},
	{ID: "other", Name: "Other", Icon: "📋"},
}

// Domains 返回领域目录的副本。
func Domains() []Domain {
	out := make([]Domain, len(domains))
	copy(out, domains)
	return out
}

// KnownDomain 判断领域 ID 是否在目录中。
func KnownDomain(id string) bool {
	for _, d := range domains {
		if d.ID == id {
			return true
		}
	}
	return false
}
