package webdriver

import (
	"testing"

	"github.com/wanmail/crmflow/internal/fakedriver"
)

// openCallReport signs in and opens the call report form.
func openCallReport(t *testing.T, wd WebDriver) {
	t.Helper()
	signIn(t, wd)
	click(t, wd, ByLinkText, "My Accounts")
	if err := wd.SwitchFrame("itarget"); err != nil {
		t.Fatalf("wd.SwitchFrame(itarget) returned error: %v", err)
	}
	click(t, wd, ByLinkText, "Adams, Bob")
	click(t, wd, ByName, "record_a_call")
}

func selectedText(t *testing.T, s SelectElement) string {
	t.Helper()
	opt, err := s.FirstSelectedOption()
	if err != nil {
		t.Fatalf("FirstSelectedOption() returned error: %v", err)
	}
	text, err := opt.Text()
	if err != nil {
		t.Fatalf("Text() returned error: %v", err)
	}
	return text
}

func TestSelectByVisibleText(t *testing.T) {
	_, wd := newFakeRemote(t, testCRM)
	openCallReport(t, wd)

	s, err := Select(find(t, wd, ByID, "RecordTypeId"))
	if err != nil {
		t.Fatalf("Select() returned error: %v", err)
	}
	if s.IsMultiple() {
		t.Error("s.IsMultiple() = true, want false")
	}
	opts, err := s.Options()
	if err != nil {
		t.Fatalf("Options() returned error: %v", err)
	}
	if len(opts) != 2 {
		t.Fatalf("len(Options()) = %d, want 2", len(opts))
	}
	if got, want := selectedText(t, s), "Call Report"; got != want {
		t.Errorf("selected option = %q, want %q", got, want)
	}

	if err := s.SelectByVisibleText("Mass Add Promo Call"); err != nil {
		t.Fatalf("SelectByVisibleText() returned error: %v", err)
	}
	// The form reloads; the old select is gone.
	s, err = Select(find(t, wd, ByID, "RecordTypeId"))
	if err != nil {
		t.Fatalf("Select() after reload returned error: %v", err)
	}
	if got, want := selectedText(t, s), "Mass Add Promo Call"; got != want {
		t.Errorf("selected option = %q, want %q", got, want)
	}
	selected, err := s.AllSelectedOptions()
	if err != nil {
		t.Fatalf("AllSelectedOptions() returned error: %v", err)
	}
	if len(selected) != 1 {
		t.Errorf("len(AllSelectedOptions()) = %d, want 1", len(selected))
	}
}

func TestSelectByVisibleTextFallback(t *testing.T) {
	_, wd := newFakeRemote(t, testCRM)
	openCallReport(t, wd)

	s, err := Select(find(t, wd, ByID, "RecordTypeId"))
	if err != nil {
		t.Fatalf("Select() returned error: %v", err)
	}
	// Repeated inner spaces miss the XPath lookup and match on trimmed text.
	if err := s.SelectByVisibleText("  Mass  Add Promo   Call "); err != nil {
		t.Fatalf("SelectByVisibleText() returned error: %v", err)
	}
	s, _ = Select(find(t, wd, ByID, "RecordTypeId"))
	if got, want := selectedText(t, s), "Mass Add Promo Call"; got != want {
		t.Errorf("selected option = %q, want %q", got, want)
	}
}

func TestSelectMissingOption(t *testing.T) {
	_, wd := newFakeRemote(t, testCRM)
	openCallReport(t, wd)

	s, err := Select(find(t, wd, ByID, "RecordTypeId"))
	if err != nil {
		t.Fatalf("Select() returned error: %v", err)
	}
	if err := s.SelectByVisibleText("Group Call"); !IsNoSuchElement(err) {
		t.Errorf("SelectByVisibleText(Group Call) = %v, want no such element", err)
	}
	if err := s.SelectByValue("Group Call"); !IsNoSuchElement(err) {
		t.Errorf("SelectByValue(Group Call) = %v, want no such element", err)
	}
	if err := s.SelectByValue("Call Report"); err != nil {
		t.Errorf("SelectByValue(Call Report) returned error: %v", err)
	}
}

func TestSelectRequiresSelectTag(t *testing.T) {
	_, wd := newFakeRemote(t, testCRM)
	openCallReport(t, wd)

	if _, err := Select(find(t, wd, ByID, "userNavButton")); err == nil {
		t.Error("Select(<span>) returned nil error")
	}
}

func TestFirstSelectedOptionNone(t *testing.T) {
	app := &fakedriver.Page{Elements: []*fakedriver.Element{{
		Tag:     "select",
		Attrs:   map[string]string{"id": "empty"},
		Options: []*fakedriver.Element{{Tag: "option", Text: "A"}},
	}}}
	srv := fakedriver.New(staticApp{app})
	defer srv.Close()
	wd, err := NewRemote(nil, srv.URL)
	if err != nil {
		t.Fatalf("NewRemote() returned error: %v", err)
	}
	defer wd.Quit()
	if err := wd.Get("about:blank"); err != nil {
		t.Fatalf("wd.Get() returned error: %v", err)
	}

	s, err := Select(find(t, wd, ByID, "empty"))
	if err != nil {
		t.Fatalf("Select() returned error: %v", err)
	}
	if _, err := s.FirstSelectedOption(); !IsNoSuchElement(err) {
		t.Errorf("FirstSelectedOption() = %v, want no such element", err)
	}
}

type staticApp struct{ page *fakedriver.Page }

func (a staticApp) Open(string) *fakedriver.Page { return a.page }

func TestXPathLiteral(t *testing.T) {
	for in, want := range map[string]string{
		`Cholecap`:       `"Cholecap"`,
		`Bob "the" Adam`: `'Bob "the" Adam'`,
		`O'Neil "Jr"`:    `concat("O'Neil ", '"', "Jr", '"', "")`,
	} {
		if got := xpathLiteral(in); got != want {
			t.Errorf("xpathLiteral(%q) = %s, want %s", in, got, want)
		}
	}
}
