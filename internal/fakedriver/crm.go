package fakedriver

// Structural paths of the call report form, as rendered by the CRM.
const (
	ReportHeadingXPath   = `//*[@id="veeva-app"]/div/div/form/div/div[1]/table/tbody/tr/td[1]/h2`
	ProductSelect1XPath  = `//*[@id="veeva-app"]/div/div/form/div/div[2]/span[3]/div/div/div[2]/div/span/div/div/span/span/span/span/span/div/table/tbody/tr[2]/td/table/tbody/tr[1]/td[2]/div/div[1]/div[1]/div[2]/span/div/span/select`
	ProductSelect2XPath  = `//*[@id="veeva-app"]/div/div/form/div/div[2]/span[3]/div/div/div[2]/div/span/div/div/span/span/span/span/span/div/table/tbody/tr[2]/td/table/tbody/tr[2]/td[2]/div/div[1]/div[1]/div[2]/span/div/span/select`
	PromoQuantityXPath   = `//*[@id="veeva-app"]/div/div/form/div/div[2]/span[7]/div/div/div[2]/div/span/div/div/span/span/span/span/span/div/table/tbody[5]/tr[2]/td[3]/span/span/input`
	PromoItemID          = "chka00U0000006DoX4IAK"
	DefaultAccountName   = "Dr. Bob Adams"
	callReportRecordType = "Call Report"
	massPromoRecordType  = "Mass Add Promo Call"
)

// CRMOptions configures the scripted CRM and the faults it injects.
type CRMOptions struct {
	// Username and Password are the only accepted credentials.
	Username, Password string
	// AccountName is rendered in the account name field. Defaults to
	// DefaultAccountName.
	AccountName string
	// HeadingNeverClickable keeps the call report heading hidden.
	HeadingNeverClickable bool
	// OmitPasswordField leaves the password input out of the login page.
	OmitPasswordField bool
	// OmitPromoItem leaves the promo-item checkbox out of the form.
	OmitPromoItem bool
	// SavedQuantity, when set, is rendered after saving instead of the
	// quantity typed into the form.
	SavedQuantity string
	// FirstProductLabel, when set, replaces the label of the product offered
	// in the first call discussion dropdown.
	FirstProductLabel string
	// ProductNotPreselected leaves the second product dropdown on --None--
	// after its checkbox is ticked.
	ProductNotPreselected bool
	// CheckboxIgnoresClicks keeps every form checkbox unticked.
	CheckboxIgnoresClicks bool
}

// CRM is the reference CRM: login, home with an accounts tab, an account
// list inside the itarget frame, account detail, call report form and the
// saved report.
type CRM struct {
	opts     CRMOptions
	loggedIn bool
}

// NewCRM returns the reference CRM.
func NewCRM(opts CRMOptions) *CRM {
	if opts.AccountName == "" {
		opts.AccountName = DefaultAccountName
	}
	return &CRM{opts: opts}
}

// NewCRMServer starts a fake remote end serving NewCRM(opts).
func NewCRMServer(opts CRMOptions, serverOpts ...Option) *Server {
	return New(NewCRM(opts), serverOpts...)
}

// Open implements Application.
func (c *CRM) Open(url string) *Page {
	if c.loggedIn {
		return c.home()
	}
	return c.login("")
}

func attrs(kv ...string) map[string]string {
	m := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = kv[i+1]
	}
	return m
}

func checkbox(key, value, label string) *Element {
	return &Element{Tag: "input", Attrs: attrs(key, value, "type", "checkbox"), Label: label}
}

// ticked returns a click handler for box that runs then, or undoes the
// click when CheckboxIgnoresClicks is set.
func (c *CRM) ticked(box *Element, then func()) func(*Server) {
	return func(*Server) {
		if c.opts.CheckboxIgnoresClicks {
			box.Selected = false
			return
		}
		if then != nil {
			then()
		}
	}
}

func options(texts ...string) []*Element {
	opts := make([]*Element, len(texts))
	for i, t := range texts {
		opts[i] = &Element{Tag: "option", Text: t, Attrs: attrs("value", t)}
	}
	return opts
}

func (c *CRM) login(message string) *Page {
	user := &Element{Tag: "input", Attrs: attrs("id", "username", "type", "email"), Label: "username"}
	pass := &Element{Tag: "input", Attrs: attrs("id", "password", "type", "password"), Label: "password"}
	button := &Element{Tag: "input", Attrs: attrs("id", "Login", "type", "submit"), Label: "login button"}
	button.OnClick = func(s *Server) {
		if user.Value == c.opts.Username && pass.Value == c.opts.Password && !c.opts.OmitPasswordField {
			c.loggedIn = true
			s.Show(c.home())
			return
		}
		s.Show(c.login("Please check your username and password."))
	}

	p := &Page{Title: "Login", Elements: []*Element{user}}
	if !c.opts.OmitPasswordField {
		p.Elements = append(p.Elements, pass)
	}
	p.Elements = append(p.Elements, button)
	if message != "" {
		p.Elements = append(p.Elements, &Element{Tag: "div", Attrs: attrs("id", "error"), Text: message})
	}
	return p
}

// header returns the navigation shared by every signed-in page.
func (c *CRM) header() []*Element {
	logout := &Element{Tag: "a", Text: "Logout", Hidden: true, Label: "logout link"}
	logout.OnClick = func(s *Server) {
		c.loggedIn = false
		s.Show(c.login(""))
	}
	menu := &Element{Tag: "span", Attrs: attrs("id", "userNavButton"), Text: "Mike", Label: "user menu"}
	menu.OnClick = func(*Server) { logout.Hidden = !logout.Hidden }
	accounts := &Element{Tag: "a", Text: "My Accounts", Label: "accounts tab"}
	accounts.OnClick = func(s *Server) { s.Show(c.accounts()) }
	return []*Element{menu, logout, accounts}
}

func (c *CRM) home() *Page {
	return &Page{
		Title:    "Home",
		Elements: append(c.header(), &Element{Tag: "h1", Text: "Home"}),
	}
}

func (c *CRM) accounts() *Page {
	frame := &Element{Tag: "iframe", Attrs: attrs("name", "itarget", "id", "itarget")}
	adams := &Element{Tag: "a", Text: "Adams, Bob", Frame: "itarget", Label: "account link"}
	adams.OnClick = func(s *Server) { s.Show(c.account()) }
	baker := &Element{Tag: "a", Text: "Baker, Carol", Frame: "itarget"}
	baker.OnClick = func(s *Server) { s.Show(c.account()) }
	return &Page{
		Title:    "My Accounts",
		Elements: append(c.header(), frame, adams, baker),
	}
}

func (c *CRM) account() *Page {
	name := &Element{Tag: "td", Attrs: attrs("id", "acc2_ileinner"), Text: c.opts.AccountName, Label: "account name"}
	record := &Element{Tag: "input", Attrs: attrs("name", "record_a_call", "type", "button"), Label: "record a call"}
	record.OnClick = func(s *Server) { s.Show(c.callReport()) }
	return &Page{
		Title:    "Account: " + c.opts.AccountName,
		Elements: append(c.header(), name, record),
	}
}

func (c *CRM) recordTypeSelect(selected string) *Element {
	sel := &Element{
		Tag:     "select",
		Attrs:   attrs("id", "RecordTypeId"),
		Label:   "record type",
		Options: options(callReportRecordType, massPromoRecordType),
	}
	for i, o := range sel.Options {
		if o.Text == selected {
			sel.Choose(i)
		}
	}
	sel.OnChange = func(s *Server, o *Element) {
		// Changing the record type reloads the form.
		s.Show(c.form(o.Text))
	}
	return sel
}

func (c *CRM) callReport() *Page {
	return c.form(callReportRecordType)
}

func (c *CRM) form(recordType string) *Page {
	heading := &Element{
		Tag:    "h2",
		XPath:  ReportHeadingXPath,
		Text:   recordType,
		Hidden: c.opts.HeadingNeverClickable,
		Label:  "report heading",
	}
	els := append(c.header(), heading, c.recordTypeSelect(recordType))
	if recordType != massPromoRecordType {
		return &Page{Title: "New Call Report", Elements: els}
	}

	first := "Cholecap"
	if c.opts.FirstProductLabel != "" {
		first = c.opts.FirstProductLabel
	}
	product1 := &Element{Tag: "select", XPath: ProductSelect1XPath, Options: options("--None--", first), Label: "product 1"}
	product1.Choose(0)
	product2 := &Element{Tag: "select", XPath: ProductSelect2XPath, Options: options("--None--", "Labrinone | lab Detail Group 1"), Label: "product 2"}
	product2.Choose(0)
	cholecap := checkbox("name", "Cholecap", "Cholecap")
	cholecap.OnClick = c.ticked(cholecap, func() { product1.Choose(boolIndex(cholecap.Selected)) })
	labrinone := checkbox("name", "Labrinone", "Labrinone")
	labrinone.OnClick = c.ticked(labrinone, func() {
		if !c.opts.ProductNotPreselected {
			product2.Choose(boolIndex(labrinone.Selected))
		}
	})
	quantity := &Element{Tag: "input", XPath: PromoQuantityXPath, Attrs: attrs("type", "text"), Value: "1", Label: "promo quantity"}

	save := &Element{Tag: "input", Attrs: attrs("name", "Save", "type", "button"), Label: "save"}
	save.OnClick = func(s *Server) {
		saved := quantity.Value
		if c.opts.SavedQuantity != "" {
			saved = c.opts.SavedQuantity
		}
		s.Show(c.saved(saved))
	}

	els = append(els, cholecap, labrinone, product1, product2)
	if !c.opts.OmitPromoItem {
		promo := checkbox("id", PromoItemID, "promo item")
		promo.OnClick = c.ticked(promo, nil)
		els = append(els, promo)
	}
	els = append(els, quantity, save)
	return &Page{Title: "New Call Report", Elements: els}
}

func boolIndex(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (c *CRM) saved(quantity string) *Page {
	return &Page{
		Title: "Call Report",
		Elements: append(c.header(),
			&Element{Tag: "span", Attrs: attrs("name", "Status_vod__c"), Text: "Saved", Label: "call status"},
			&Element{Tag: "span", Attrs: attrs("name", "Quantity_vod__c"), Text: quantity, Label: "saved quantity"},
		),
	}
}
