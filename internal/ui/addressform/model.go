package addressform

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/tempmail/internal/address"
	"github.com/nhle/tempmail/internal/api"
	"github.com/nhle/tempmail/internal/model"
	"github.com/nhle/tempmail/internal/theme"
)

// SubmitMsg carries the address request built from the form.
type SubmitMsg struct {
	Request api.CreateAddressRequest
}

// CancelMsg is dispatched when the user aborts the form.
type CancelMsg struct{}

// formBindings holds field values on the heap so huh's Value pointers
// stay valid across Bubble Tea model copies.
type formBindings struct {
	domain    string
	tier      model.Tier
	mode      model.EncryptionMode
	localPart string
	ttl       string
}

// Model is the new-address form.
type Model struct {
	form    *huh.Form
	fb      *formBindings
	domains []string
	width   int
	height  int
}

// New creates the form model.
func New(width, height int) Model {
	return Model{
		fb:     &formBindings{},
		width:  width,
		height: height,
	}
}

// Start resets the form for the given accepted domains.
func (m *Model) Start(domains []string) tea.Cmd {
	m.domains = domains
	*m.fb = formBindings{tier: model.TierFree, mode: model.ModeManaged}
	if len(domains) > 0 {
		m.fb.domain = domains[0]
	}
	m.form = m.buildForm()
	return m.form.Init()
}

func (m *Model) buildForm() *huh.Form {
	domainOpts := make([]huh.Option[string], len(m.domains))
	for i, d := range m.domains {
		domainOpts[i] = huh.NewOption(d, d)
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Domain").
				Options(domainOpts...).
				Value(&m.fb.domain),
			huh.NewSelect[model.Tier]().
				Title("Tier").
				Options(
					huh.NewOption("Free", model.TierFree),
					huh.NewOption("Premium", model.TierPremium),
					huh.NewOption("Business", model.TierBusiness),
				).
				Value(&m.fb.tier),
			huh.NewSelect[model.EncryptionMode]().
				Title("Encryption").
				Description("Sealed keeps the secret key on this machine only").
				Options(
					huh.NewOption("Managed", model.ModeManaged),
					huh.NewOption("Sealed", model.ModeSealed),
				).
				Value(&m.fb.mode),
			huh.NewInput().
				Title("Local part").
				Placeholder("random (paid tiers may choose)").
				Value(&m.fb.localPart).
				Validate(validateLocalPart),
			huh.NewInput().
				Title("Lifetime").
				Placeholder("tier default, e.g. 30m or 2h").
				Value(&m.fb.ttl).
				Validate(validateTTL),
		),
	).WithWidth(m.formWidth()).WithHeight(m.formHeight())
}

// Update handles messages for the form.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if m.form == nil {
		return m, nil
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		req := m.fb.request()
		m.form = nil
		return m, func() tea.Msg { return SubmitMsg{Request: req} }
	case huh.StateAborted:
		m.form = nil
		return m, func() tea.Msg { return CancelMsg{} }
	}
	return m, cmd
}

// request converts the bound values. Validation already ran.
func (fb *formBindings) request() api.CreateAddressRequest {
	req := api.CreateAddressRequest{
		Domain:    fb.domain,
		Tier:      fb.tier,
		Mode:      fb.mode,
		LocalPart: strings.ToLower(strings.TrimSpace(fb.localPart)),
	}
	if d, err := time.ParseDuration(strings.TrimSpace(fb.ttl)); err == nil {
		req.TTLSeconds = int64(d / time.Second)
	}
	return req
}

// View renders the form.
func (m Model) View() string {
	if m.form == nil {
		return ""
	}

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1).
		Render("New Address")

	return lipgloss.NewStyle().
		Padding(1, 2).
		Render(title + "\n" + m.form.View())
}

// SetSize updates the form dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

func (m Model) formWidth() int {
	return min(max(m.width-4, 40), 100)
}

func (m Model) formHeight() int {
	return max(m.height-4, 10)
}

func validateLocalPart(s string) error {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return nil
	}
	return address.ValidateLocalPart(s)
}

func validateTTL(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fmt.Errorf("use a positive duration like 45m or 3h")
	}
	return nil
}
