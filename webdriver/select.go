package webdriver

import (
	"fmt"
	"strings"
)

// SelectElement wraps a <select> element.
type SelectElement struct {
	element WebElement
	isMulti bool
}

// Select wraps el, which must be a <select> element.
func Select(el WebElement) (SelectElement, error) {
	tagName, err := el.TagName()
	if err != nil {
		return SelectElement{}, err
	}
	if strings.ToLower(tagName) != "select" {
		return SelectElement{}, fmt.Errorf(`element should have been "select" but was %q`, tagName)
	}

	mult, err := el.GetAttribute("multiple")
	if err != nil {
		return SelectElement{}, err
	}
	return SelectElement{
		element: el,
		isMulti: mult != "" && strings.ToLower(mult) != "false",
	}, nil
}

// Element returns the underlying <select> element.
func (s SelectElement) Element() WebElement {
	return s.element
}

// IsMultiple reports whether the element accepts several selected options.
func (s SelectElement) IsMultiple() bool {
	return s.isMulti
}

// Options returns all options of the element.
func (s SelectElement) Options() ([]WebElement, error) {
	return s.element.FindElements(ByTagName, "option")
}

// AllSelectedOptions returns the options that are currently selected.
func (s SelectElement) AllSelectedOptions() ([]WebElement, error) {
	opts, err := s.Options()
	if err != nil {
		return nil, err
	}
	var selected []WebElement
	for _, o := range opts {
		ok, err := o.IsSelected()
		if err != nil {
			return nil, err
		}
		if ok {
			selected = append(selected, o)
		}
	}
	return selected, nil
}

// FirstSelectedOption returns the first selected option, which for a
// single select is its current value.
func (s SelectElement) FirstSelectedOption() (WebElement, error) {
	opts, err := s.Options()
	if err != nil {
		return nil, err
	}
	for _, o := range opts {
		ok, err := o.IsSelected()
		if err != nil {
			return nil, err
		}
		if ok {
			return o, nil
		}
	}
	return nil, &Error{Err: ErrCodeNoSuchElement, Message: "no option is selected"}
}

// SelectByVisibleText selects the options whose whitespace-normalized text
// equals text. That is, "Bar" selects <option value="foo">Bar</option>.
func (s SelectElement) SelectByVisibleText(text string) error {
	options, err := s.element.FindElements(ByXPATH, `.//option[normalize-space(.) = `+xpathLiteral(text)+`]`)
	if err != nil {
		return err
	}
	matched := false
	for _, option := range options {
		if err := s.setSelected(option); err != nil {
			return err
		}
		matched = true
		if !s.isMulti {
			return nil
		}
	}
	if matched {
		return nil
	}

	// The XPath above misses options whose text contains non-breaking or
	// repeated spaces; compare trimmed text of every candidate instead.
	candidates, err := s.Options()
	if err != nil {
		return err
	}
	trimmed := strings.Join(strings.Fields(text), " ")
	for _, option := range candidates {
		o, err := option.Text()
		if err != nil {
			return err
		}
		if strings.Join(strings.Fields(o), " ") != trimmed {
			continue
		}
		if err := s.setSelected(option); err != nil {
			return err
		}
		matched = true
		if !s.isMulti {
			return nil
		}
	}
	if !matched {
		return &Error{Err: ErrCodeNoSuchElement, Message: fmt.Sprintf("cannot locate option with text %q", text)}
	}
	return nil
}

// SelectByValue selects the options whose value attribute equals value.
func (s SelectElement) SelectByValue(value string) error {
	opts, err := s.element.FindElements(ByXPATH, `.//option[@value = `+xpathLiteral(value)+`]`)
	if err != nil {
		return err
	}
	if len(opts) == 0 {
		return &Error{Err: ErrCodeNoSuchElement, Message: fmt.Sprintf("cannot locate option with value %q", value)}
	}
	for _, option := range opts {
		if err := s.setSelected(option); err != nil {
			return err
		}
		if !s.isMulti {
			return nil
		}
	}
	return nil
}

// xpathLiteral quotes s as an XPath 1.0 string literal, which has no
// escape syntax.
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, `'`) {
		return `'` + s + `'`
	}
	parts := strings.Split(s, `"`)
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = `"` + p + `"`
	}
	return `concat(` + strings.Join(quoted, `, '"', `) + `)`
}

func (s SelectElement) setSelected(option WebElement) error {
	sel, err := option.IsSelected()
	if err != nil {
		return err
	}
	if sel {
		return nil
	}
	return option.Click()
}
