package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"lawsim/models"
	"lawsim/testutil"
	"lawsim/utils"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []utils.InvitationEmail
}

func (r *recordingMailer) SendInvitation(data utils.InvitationEmail) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, data)
	return nil
}

type invitationFixture struct {
	db     *gorm.DB
	svc    *InvitationService
	mailer *recordingMailer
	prof   *models.User
	course *models.Course
	orgID  uint
}

func newInvitationFixture(t *testing.T, seats int) *invitationFixture {
	t.Helper()
	db := testutil.NewDB(t)
	org := testutil.CreateOrg(t, db, "acme")
	testutil.GrantLicense(t, db, org.ID, models.TierBasic, seats)
	prof := testutil.CreateUser(t, db, "prof@example.com", models.RoleInstructor, org.ID)
	course := testutil.CreateCourse(t, db, org.ID, prof.ID, "Contracts")
	mailer := &recordingMailer{}
	svc := NewInvitationService(db, NewLicenseEnforcer(db), mailer, "https://lawsim.test/")
	return &invitationFixture{db: db, svc: svc, mailer: mailer, prof: prof, course: course, orgID: org.ID}
}

func TestInvitationLifecycle(t *testing.T) {
	f := newInvitationFixture(t, 5)
	ctx := context.Background()
	now := testutil.Now

	inv, token, err := f.svc.Create(ctx, f.prof, f.course, "  Student@Example.com ", "", now)
	require.NoError(t, err)
	assert.Equal(t, "student@example.com", inv.Email)
	assert.Equal(t, models.EnrollmentStudent, inv.Role)
	assert.Equal(t, now.Add(InvitationTTL), inv.ExpiresAt)
	assert.NotEqual(t, token, inv.TokenHash, "only the hash is stored")
	assert.Equal(t, utils.HashToken(token), inv.TokenHash)

	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, "https://lawsim.test/invitations/accept?token="+token, f.mailer.sent[0].AcceptLink)
	assert.Equal(t, "Contracts", f.mailer.sent[0].CourseTitle)

	_, _, err = f.svc.Create(ctx, f.prof, f.course, "student@example.com", "", now)
	assert.ErrorIs(t, err, ErrConflict, "pending invitation exists")

	stranger := testutil.CreateUser(t, f.db, "someone@example.com", models.RoleStudent, f.orgID)
	_, err = f.svc.Accept(ctx, stranger, token, now)
	assert.ErrorIs(t, err, ErrForbidden)

	student := testutil.CreateUser(t, f.db, "STUDENT@example.com", models.RoleStudent, f.orgID)
	enrollment, err := f.svc.Accept(ctx, student, token, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, f.course.ID, enrollment.CourseID)
	assert.Equal(t, student.ID, enrollment.UserID)

	_, err = f.svc.Accept(ctx, student, token, now.Add(time.Hour))
	assert.ErrorIs(t, err, ErrInvitationUsed)

	_, err = f.svc.Accept(ctx, student, "bogus", now)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInvitationExpiry(t *testing.T) {
	f := newInvitationFixture(t, 5)
	ctx := context.Background()

	_, token, err := f.svc.Create(ctx, f.prof, f.course, "late@example.com", models.EnrollmentStudent, testutil.Now)
	require.NoError(t, err)

	late := testutil.CreateUser(t, f.db, "late@example.com", models.RoleStudent, f.orgID)
	_, err = f.svc.Accept(ctx, late, token, testutil.Now.Add(InvitationTTL))
	assert.ErrorIs(t, err, ErrInvitationExpired)

	// an expired invitation no longer blocks a new one
	_, _, err = f.svc.Create(ctx, f.prof, f.course, "late@example.com", "", testutil.Now.Add(InvitationTTL+time.Minute))
	assert.NoError(t, err)
}

func TestInvitationSeatLimit(t *testing.T) {
	f := newInvitationFixture(t, 1)
	ctx := context.Background()
	now := testutil.Now

	_, t1, err := f.svc.Create(ctx, f.prof, f.course, "a@example.com", "", now)
	require.NoError(t, err)
	_, t2, err := f.svc.Create(ctx, f.prof, f.course, "b@example.com", "", now)
	require.NoError(t, err)
	_, t3, err := f.svc.Create(ctx, f.prof, f.course, "ta@example.com", models.EnrollmentAssistant, now)
	require.NoError(t, err)

	a := testutil.CreateUser(t, f.db, "a@example.com", models.RoleStudent, f.orgID)
	b := testutil.CreateUser(t, f.db, "b@example.com", models.RoleStudent, f.orgID)
	ta := testutil.CreateUser(t, f.db, "ta@example.com", models.RoleStudent, f.orgID)

	_, err = f.svc.Accept(ctx, a, t1, now)
	require.NoError(t, err)
	_, err = f.svc.Accept(ctx, b, t2, now)
	assert.ErrorIs(t, err, ErrSeatLimitReached)
	_, err = f.svc.Accept(ctx, ta, t3, now)
	assert.NoError(t, err, "assistants do not take seats")
}

func TestInvitationRequiresFeatureAndValidInput(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	org := testutil.CreateOrg(t, db, "unlicensed")
	prof := testutil.CreateUser(t, db, "prof@example.com", models.RoleInstructor, org.ID)
	course := testutil.CreateCourse(t, db, org.ID, prof.ID, "Contracts")
	svc := NewInvitationService(db, NewLicenseEnforcer(db), nil, "http://localhost")

	_, _, err := svc.Create(ctx, prof, course, "x@example.com", "", testutil.Now)
	assert.ErrorIs(t, err, ErrFeatureNotLicensed)
	_, _, err = svc.Create(ctx, prof, course, "not-an-email", "", testutil.Now)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, _, err = svc.Create(ctx, prof, course, "x@example.com", "dean", testutil.Now)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestInvitationRevoke(t *testing.T) {
	f := newInvitationFixture(t, 5)
	ctx := context.Background()

	inv, token, err := f.svc.Create(ctx, f.prof, f.course, "gone@example.com", "", testutil.Now)
	require.NoError(t, err)
	require.NoError(t, f.svc.Revoke(ctx, inv.ID))
	assert.ErrorIs(t, f.svc.Revoke(ctx, inv.ID), ErrNotFound)

	user := testutil.CreateUser(t, f.db, "gone@example.com", models.RoleStudent, f.orgID)
	_, err = f.svc.Accept(ctx, user, token, testutil.Now)
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := f.svc.List(ctx, f.course.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}
