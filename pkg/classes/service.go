package classes

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/CatfishW/ping-agaii-org/pkg/async"
	"github.com/CatfishW/ping-agaii-org/pkg/auth"
	"github.com/CatfishW/ping-agaii-org/pkg/mail"
	"github.com/CatfishW/ping-agaii-org/pkg/observability"
)

const (
	inviteWorkers = 4
	inviteTimeout = 15 * time.Second
)

// Service applies ownership rules on top of Store.
type Service struct {
	store   *Store
	mailer  mail.Mailer
	joinURL string
	logger  *observability.Logger
}

// NewService creates a class service. joinURL is the page students open
// to enter a join code; it appears in invitation emails.
func NewService(store *Store, mailer mail.Mailer, joinURL string, logger *observability.Logger) *Service {
	return &Service{store: store, mailer: mailer, joinURL: joinURL, logger: logger}
}

// canManage reports whether caller may change c. Platform admins manage
// every class, org admins those in their organization, teachers their own.
func canManage(caller *auth.User, c *Class) bool {
	switch caller.Role {
	case auth.RolePlatformAdmin:
		return true
	case auth.RoleOrgAdmin:
		if caller.OrganizationID != nil && c.OrganizationID != nil && *caller.OrganizationID == *c.OrganizationID {
			return true
		}
	}
	return caller.ID == c.TeacherID
}

func (s *Service) managed(ctx context.Context, caller *auth.User, id int64) (*Class, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canManage(caller, c) {
		return nil, ErrForbidden
	}
	return c, nil
}

// Create makes a class owned by caller.
func (s *Service) Create(ctx context.Context, caller *auth.User, req CreateRequest) (*Class, error) {
	if !auth.CanTeach(caller.Role) {
		return nil, ErrTeacherRequired
	}
	c := &Class{
		Name:           strings.TrimSpace(req.Name),
		Description:    req.Description,
		TeacherID:      caller.ID,
		OrganizationID: caller.OrganizationID,
	}
	if err := s.store.Create(ctx, c); err != nil {
		return nil, err
	}
	s.logger.WithFields(map[string]interface{}{
		"class_id":   c.ID,
		"teacher_id": caller.ID,
	}).Info("class created")
	return c, nil
}

// List returns the caller's classes with stats. Platform admins see all.
func (s *Service) List(ctx context.Context, caller *auth.User) ([]ClassWithStats, error) {
	if !auth.CanTeach(caller.Role) {
		return nil, ErrTeacherRequired
	}
	teacherID := caller.ID
	if caller.Role == auth.RolePlatformAdmin {
		teacherID = 0
	}
	return s.store.ListWithStats(ctx, teacherID)
}

// Get returns a managed class with stats.
func (s *Service) Get(ctx context.Context, caller *auth.User, id int64) (*ClassWithStats, error) {
	if _, err := s.managed(ctx, caller, id); err != nil {
		return nil, err
	}
	return s.store.GetWithStats(ctx, id)
}

// Update changes a managed class.
func (s *Service) Update(ctx context.Context, caller *auth.User, id int64, req UpdateRequest) (*Class, error) {
	if _, err := s.managed(ctx, caller, id); err != nil {
		return nil, err
	}
	return s.store.Update(ctx, id, req)
}

// RegenerateCode invalidates the old join code of a managed class.
func (s *Service) RegenerateCode(ctx context.Context, caller *auth.User, id int64) (*Class, error) {
	if _, err := s.managed(ctx, caller, id); err != nil {
		return nil, err
	}
	return s.store.RegenerateCode(ctx, id)
}

// Delete removes a managed class.
func (s *Service) Delete(ctx context.Context, caller *auth.User, id int64) error {
	if _, err := s.managed(ctx, caller, id); err != nil {
		return err
	}
	return s.store.Delete(ctx, id)
}

// ValidateCode reports which class a join code belongs to.
func (s *Service) ValidateCode(ctx context.Context, code string) (*JoinCodeInfo, error) {
	c, err := s.store.FindByCode(ctx, NormalizeJoinCode(code))
	if err != nil {
		return nil, err
	}
	return &JoinCodeInfo{Valid: true, ClassID: c.ID, ClassName: c.Name}, nil
}

// Join enrolls the caller in the class behind code. Joining twice is a
// no-op.
func (s *Service) Join(ctx context.Context, caller *auth.User, code string) (*Class, error) {
	c, err := s.store.FindByCode(ctx, NormalizeJoinCode(code))
	if err != nil {
		return nil, err
	}
	joined, err := s.store.AddMember(ctx, c.ID, caller)
	if err != nil {
		return nil, err
	}
	if joined {
		s.logger.WithFields(map[string]interface{}{
			"class_id": c.ID,
			"user_id":  caller.ID,
		}).Info("joined class")
	}
	return c, nil
}

// Students returns member progress for a managed class.
func (s *Service) Students(ctx context.Context, caller *auth.User, id int64) ([]StudentProgress, error) {
	if _, err := s.managed(ctx, caller, id); err != nil {
		return nil, err
	}
	return s.store.Progress(ctx, id)
}

// Invite emails the join code of a managed class to each address. Failed
// deliveries are reported, not returned as an error.
func (s *Service) Invite(ctx context.Context, caller *auth.User, id int64, req InviteRequest) (*InviteResult, error) {
	c, err := s.managed(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	msg := s.invitation(caller, c, req.Message)
	addrs := make([]string, len(req.Emails))
	for i, addr := range req.Emails {
		addrs[i] = strings.TrimSpace(addr)
	}
	errs := async.Batch(ctx, s.logger, addrs, inviteWorkers, "class invite", inviteTimeout,
		func(ctx context.Context, addr string) error {
			m := msg
			m.To = []string{addr}
			return s.mailer.Send(ctx, m)
		})

	result := &InviteResult{Failed: []string{}}
	for i, err := range errs {
		if err != nil {
			s.logger.WithError(err).WithField("class_id", c.ID).Warn("invitation not delivered")
			result.Failed = append(result.Failed, addrs[i])
			continue
		}
		result.Sent++
	}
	return result, nil
}

func (s *Service) invitation(caller *auth.User, c *Class, note string) mail.Message {
	teacher := caller.DisplayName()
	subject := fmt.Sprintf("%s invited you to join %s", teacher, c.Name)

	var text strings.Builder
	fmt.Fprintf(&text, "%s has invited you to join the class %q on PING.\n\n", teacher, c.Name)
	if note != "" {
		fmt.Fprintf(&text, "%s\n\n", note)
	}
	fmt.Fprintf(&text, "Join code: %s\n", c.JoinCode)
	if s.joinURL != "" {
		fmt.Fprintf(&text, "Enter it at %s\n", s.joinURL)
	}

	var body strings.Builder
	fmt.Fprintf(&body, "<p>%s has invited you to join the class <strong>%s</strong> on PING.</p>",
		html.EscapeString(teacher), html.EscapeString(c.Name))
	if note != "" {
		fmt.Fprintf(&body, "<p>%s</p>", html.EscapeString(note))
	}
	fmt.Fprintf(&body, "<p>Join code: <code>%s</code></p>", c.JoinCode)
	if s.joinURL != "" {
		fmt.Fprintf(&body, `<p><a href="%s">Join the class</a></p>`, html.EscapeString(s.joinURL))
	}

	return mail.Message{Subject: subject, TextBody: text.String(), HTMLBody: body.String()}
}
