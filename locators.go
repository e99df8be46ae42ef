package crmflow

import (
	"fmt"

	"github.com/wanmail/crmflow/webdriver"
)

// Locator addresses one element. It is resolved again on every use.
type Locator struct {
	By    string `yaml:"by" json:"by"`
	Value string `yaml:"value" json:"value"`
}

func (l Locator) String() string {
	return fmt.Sprintf("%s %q", l.By, l.Value)
}

// ByID locates by the id attribute.
func ByID(id string) Locator { return Locator{webdriver.ByID, id} }

// ByName locates by the name attribute.
func ByName(name string) Locator { return Locator{webdriver.ByName, name} }

// ByLinkText locates a link by its exact text.
func ByLinkText(text string) Locator { return Locator{webdriver.ByLinkText, text} }

// ByXPath locates by an XPath expression.
func ByXPath(xpath string) Locator { return Locator{webdriver.ByXPATH, xpath} }

// Names of the structural locators.
const (
	ReportHeading  = "report heading"
	ProductSelect1 = "product select 1"
	ProductSelect2 = "product select 2"
	PromoQuantity  = "promo quantity"
)

// structuralPaths holds the layout-dependent paths of the call report form.
// A layout change of the CRM is an edit here.
var structuralPaths = map[string]string{
	ReportHeading:  `//*[@id="veeva-app"]/div/div/form/div/div[1]/table/tbody/tr/td[1]/h2`,
	ProductSelect1: `//*[@id="veeva-app"]/div/div/form/div/div[2]/span[3]/div/div/div[2]/div/span/div/div/span/span/span/span/span/div/table/tbody/tr[2]/td/table/tbody/tr[1]/td[2]/div/div[1]/div[1]/div[2]/span/div/span/select`,
	ProductSelect2: `//*[@id="veeva-app"]/div/div/form/div/div[2]/span[3]/div/div/div[2]/div/span/div/div/span/span/span/span/span/div/table/tbody/tr[2]/td/table/tbody/tr[2]/td[2]/div/div[1]/div[1]/div[2]/span/div/span/select`,
	PromoQuantity:  `//*[@id="veeva-app"]/div/div/form/div/div[2]/span[7]/div/div/div[2]/div/span/div/div/span/span/span/span/span/div/table/tbody[5]/tr[2]/td[3]/span/span/input`,
}

// Structural returns the named layout-dependent locator. It panics on an
// unknown name.
func Structural(name string) Locator {
	p, ok := structuralPaths[name]
	if !ok {
		panic(fmt.Sprintf("crmflow: unknown structural locator %q", name))
	}
	return ByXPath(p)
}

// Locators are the element addresses the steps use.
type Locators struct {
	Username    Locator `yaml:"username"`
	Password    Locator `yaml:"password"`
	LoginButton Locator `yaml:"login_button"`
	// UserMenu is also the signed-in marker.
	UserMenu    Locator `yaml:"user_menu"`
	LogoutLink  Locator `yaml:"logout_link"`
	AccountsTab Locator `yaml:"accounts_tab"`
	// AccountFrame is the name of the frame listing the accounts.
	AccountFrame  string    `yaml:"account_frame"`
	AccountLink   Locator   `yaml:"account_link"`
	AccountName   Locator   `yaml:"account_name"`
	RecordCall    Locator   `yaml:"record_call"`
	ReportHeading Locator   `yaml:"report_heading"`
	RecordType    Locator   `yaml:"record_type"`
	ProductSelect []Locator `yaml:"product_selects"`
	PromoItem     Locator   `yaml:"promo_item"`
	PromoQuantity Locator   `yaml:"promo_quantity"`
	Save          Locator   `yaml:"save"`
	CallStatus    Locator   `yaml:"call_status"`
	SavedQuantity Locator   `yaml:"saved_quantity"`
}

// DefaultLocators returns the locators of the reference CRM.
func DefaultLocators() Locators {
	return Locators{
		Username:      ByID("username"),
		Password:      ByID("password"),
		LoginButton:   ByID("Login"),
		UserMenu:      ByID("userNavButton"),
		LogoutLink:    ByLinkText("Logout"),
		AccountsTab:   ByLinkText("My Accounts"),
		AccountFrame:  "itarget",
		AccountLink:   ByLinkText("Adams, Bob"),
		AccountName:   ByID("acc2_ileinner"),
		RecordCall:    ByName("record_a_call"),
		ReportHeading: Structural(ReportHeading),
		RecordType:    ByID("RecordTypeId"),
		ProductSelect: []Locator{Structural(ProductSelect1), Structural(ProductSelect2)},
		PromoItem:     ByID("chka00U0000006DoX4IAK"),
		PromoQuantity: Structural(PromoQuantity),
		Save:          ByName("Save"),
		CallStatus:    ByName("Status_vod__c"),
		SavedQuantity: ByName("Quantity_vod__c"),
	}
}
