package dialog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/formbot/internal/kv"
	"github.com/dmitrijs2005/formbot/internal/otp"
	"github.com/dmitrijs2005/formbot/internal/sessions"
	"github.com/dmitrijs2005/formbot/internal/users"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent map[string]string
	err  error
}

func (f *fakeMailer) SendCode(_ context.Context, to, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.sent == nil {
		f.sent = map[string]string{}
	}
	f.sent[to] = code
	return nil
}

func (f *fakeMailer) last(to string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[to]
}

type fakeVaults struct {
	provisioned []string
	err         error
}

func (f *fakeVaults) ProvisionVault(username string) error {
	if f.err != nil {
		return f.err
	}
	f.provisioned = append(f.provisioned, username)
	return nil
}

// registryStarter is the minimal SessionStarter: the registry plus a hook
// standing in for the dispatcher's cleanup of the displaced chat.
type registryStarter struct {
	reg     *sessions.Registry
	onEvict func(chatID int64)
}

func (s *registryStarter) StartSession(ctx context.Context, chatID int64, username string) (int64, bool, error) {
	displaced, ok, err := s.reg.Login(ctx, chatID, username)
	if err == nil && ok && s.onEvict != nil {
		s.onEvict(displaced)
	}
	return displaced, ok, err
}

type harness struct {
	store  *kv.MemoryStore
	m      *Machine
	users  *users.Store
	codes  *otp.Issuer
	mail   *fakeMailer
	vaults *fakeVaults
	reg    *sessions.Registry
	now    time.Time
	clock  sync.Mutex
}

func (h *harness) Now() time.Time {
	h.clock.Lock()
	defer h.clock.Unlock()
	return h.now
}

func (h *harness) advance(d time.Duration) {
	h.clock.Lock()
	h.now = h.now.Add(d)
	h.clock.Unlock()
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := kv.NewMemoryStore()
	h := &harness{
		store:  store,
		now:    time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
		mail:   &fakeMailer{},
		vaults: &fakeVaults{},
	}
	h.users = users.NewStore(store.Table(users.TableName))
	h.codes = otp.NewIssuer(store.Table(otp.TableName), otp.DefaultTTL, otp.WithClock(h.Now))
	h.reg = sessions.NewRegistry(store.Table(sessions.TableName), h.Now)
	starter := &registryStarter{reg: h.reg}
	h.m = New(Deps{
		Users:    h.users,
		Codes:    h.codes,
		Mailer:   h.mail,
		Vaults:   h.vaults,
		Sessions: starter,
		Now:      h.Now,
	})
	starter.onEvict = h.m.Drop
	return h
}

func (h *harness) say(t *testing.T, chatID int64, text string) []Outbound {
	t.Helper()
	out, consumed, err := h.m.Handle(context.Background(), chatID, text)
	require.NoError(t, err)
	require.True(t, consumed, "text %q not consumed", text)
	return out
}

func texts(out []Outbound) []string {
	var s []string
	for _, o := range out {
		s = append(s, o.Text)
	}
	return s
}

func (h *harness) register(t *testing.T, chatID int64, username, email string) {
	t.Helper()
	h.m.StartRegistration(chatID)
	h.say(t, chatID, username)
	h.say(t, chatID, email)
	out := h.say(t, chatID, h.mail.last(email))
	require.Equal(t, []string{MsgRegistered}, texts(out))
}

func TestRegistration_HappyPath(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	out := h.m.StartRegistration(1)
	assert.Equal(t, MsgAskUsername, out.Text)

	assert.Equal(t, []string{MsgAskEmail}, texts(h.say(t, 1, "alice")))
	assert.Equal(t, []string{MsgCodeSent}, texts(h.say(t, 1, "alice@x.com")))

	code := h.mail.last("alice@x.com")
	require.Len(t, code, 6)

	h.advance(100 * time.Second)
	assert.Equal(t, []string{MsgRegistered}, texts(h.say(t, 1, code)))

	u, err := h.users.Get(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.True(t, u.Verified)
	assert.Equal(t, "alice@x.com", u.Email)
	assert.Equal(t, []string{"alice"}, h.vaults.provisioned)

	_, ok := h.m.Snapshot(1)
	assert.False(t, ok, "context destroyed on completion")
}

func TestRegistration_InvalidAndTakenUsernamesStay(t *testing.T) {
	h := newHarness(t)
	h.register(t, 9, "bob", "bob@x.com")

	h.m.StartRegistration(1)
	assert.Equal(t, []string{MsgUsernameInvalid}, texts(h.say(t, 1, "b o b")))
	assert.Equal(t, []string{MsgUsernameTaken}, texts(h.say(t, 1, "bob")))

	s, ok := h.m.Snapshot(1)
	require.True(t, ok)
	assert.Equal(t, StepRegisterUsername, s.Step)
}

func TestRegistration_WrongCodeStaysThenSucceeds(t *testing.T) {
	h := newHarness(t)
	h.m.StartRegistration(1)
	h.say(t, 1, "carol")
	h.say(t, 1, "carol@x.com")

	code := h.mail.last("carol@x.com")
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	assert.Equal(t, []string{MsgRegisterBadCode}, texts(h.say(t, 1, wrong)))
	assert.Equal(t, StepRegisterOTP, mustSnap(t, h.m, 1).Step)

	assert.Equal(t, []string{MsgRegistered}, texts(h.say(t, 1, code)))
}

func TestRegistration_ExpiredCodeNeedsFreshIssue(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.m.StartRegistration(1)
	h.say(t, 1, "dave")
	h.say(t, 1, "dave@x.com")
	code := h.mail.last("dave@x.com")

	h.advance(121 * time.Second)
	assert.Equal(t, []string{MsgRegisterBadCode}, texts(h.say(t, 1, code)))

	exists, err := h.users.Exists(ctx, "dave")
	require.NoError(t, err)
	assert.False(t, exists)

	// restarting the dialogue issues a new code
	h.register(t, 1, "dave", "dave@x.com")
}

func TestRegistration_CodeDeliveryFailureAborts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.mail.err = errors.New("smtp down")

	h.m.StartRegistration(1)
	h.say(t, 1, "erin")
	assert.Equal(t, []string{MsgCodeSendFailed}, texts(h.say(t, 1, "erin@x.com")))

	_, ok := h.m.Snapshot(1)
	assert.False(t, ok)

	// the issued code was revoked
	rec, err := h.store.Table(otp.TableName).Get(ctx, "1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRegistration_ProvisionFailureUndoesUser(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.vaults.err = errors.New("disk full")

	h.m.StartRegistration(1)
	h.say(t, 1, "hank")
	h.say(t, 1, "hank@x.com")
	_, _, err := h.m.Handle(ctx, 1, h.mail.last("hank@x.com"))
	require.Error(t, err)

	ok, err := h.users.Exists(ctx, "hank")
	require.NoError(t, err)
	assert.False(t, ok, "username must stay free after a failed registration")

	h.vaults.err = nil
	h.register(t, 2, "hank", "hank@x.com")

	email, found, err := h.users.Email(ctx, "hank")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "hank@x.com", email)
}

func TestHandle_CommandsAndIdleAreNotConsumed(t *testing.T) {
	h := newHarness(t)

	_, consumed, err := h.m.Handle(context.Background(), 1, "hello")
	require.NoError(t, err)
	assert.False(t, consumed)

	h.m.StartRegistration(1)
	_, consumed, err = h.m.Handle(context.Background(), 1, "/files")
	require.NoError(t, err)
	assert.False(t, consumed)
	assert.Equal(t, StepRegisterUsername, mustSnap(t, h.m, 1).Step, "command must not be swallowed")
}

func TestLogin_UnknownOrUnverifiedAborts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.users.Add(ctx, "frank", "frank@x.com"))

	for _, name := range []string{"ghost", "frank"} {
		h.m.StartLogin(1)
		assert.Equal(t, []string{MsgLoginUnknown}, texts(h.say(t, 1, name)))
		_, ok := h.m.Snapshot(1)
		assert.False(t, ok, name)
	}
}

func TestLogin_DisplacesPriorChat(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register(t, 1, "alice", "alice@x.com")

	login := func(chat int64) []Outbound {
		h.m.StartLogin(chat)
		assert.Equal(t, []string{MsgLoginCodeSent}, texts(h.say(t, chat, "alice")))
		return h.say(t, chat, h.mail.last("alice@x.com"))
	}

	out := login(100)
	assert.Equal(t, []string{fmt.Sprintf(MsgLoginWelcome, "alice")}, texts(out))

	// chat A has an open upload dialogue that must be dropped
	h.m.OpenUpload(100, UploadDocuments)

	out = login(200)
	require.Len(t, out, 2)
	assert.Equal(t, Outbound{ChatID: 200, Text: fmt.Sprintf(MsgLoginWelcome, "alice")}, out[0])
	assert.Equal(t, Outbound{ChatID: 100, Text: MsgDisplaced}, out[1])

	all, err := h.reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.EqualValues(t, 200, all[0].ChatID)
	assert.Equal(t, "alice", all[0].Username)

	assert.Equal(t, UploadNone, h.m.UploadMode(100))
}

func TestLogin_WrongCodeStays(t *testing.T) {
	h := newHarness(t)
	h.register(t, 1, "gina", "gina@x.com")

	h.m.StartLogin(2)
	h.say(t, 2, "gina")
	code := h.mail.last("gina@x.com")
	wrong := "999999"
	if code == wrong {
		wrong = "888888"
	}
	assert.Equal(t, []string{MsgLoginBadCode}, texts(h.say(t, 2, wrong)))
	assert.Equal(t, StepLoginOTP, mustSnap(t, h.m, 2).Step)
}

func TestDialogueTTL(t *testing.T) {
	h := newHarness(t)
	h.m.StartRegistration(1)
	h.say(t, 1, "hank")

	h.advance(DefaultTTL + time.Second)
	assert.Equal(t, []string{MsgDialogueExpired}, texts(h.say(t, 1, "hank@x.com")))
	assert.Zero(t, h.m.Len())

	_, consumed, err := h.m.Handle(context.Background(), 1, "again")
	require.NoError(t, err)
	assert.False(t, consumed)
}

func TestSweep(t *testing.T) {
	h := newHarness(t)
	h.m.StartLogin(1)
	h.m.StartRegistration(2)
	h.m.OpenUpload(3, UploadForm)

	h.advance(10 * time.Minute)
	h.m.StartRegistration(4)
	h.advance(6 * time.Minute)

	swept := h.m.Sweep()
	assert.ElementsMatch(t, []int64{1, 2}, swept)
	assert.Equal(t, 2, h.m.Len(), "upload dialogue and fresh registration remain")
	assert.Equal(t, UploadForm, h.m.UploadMode(3))
}

func TestCancelDialogue(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register(t, 1, "ivy", "ivy@x.com")

	h.m.StartLogin(1)
	h.say(t, 1, "ivy")
	code := h.mail.last("ivy@x.com")

	assert.True(t, h.m.CancelDialogue(ctx, 1))
	assert.False(t, h.m.CancelDialogue(ctx, 1))

	ok, err := h.codes.Validate(ctx, 1, code, otp.PurposeLogin)
	require.NoError(t, err)
	assert.False(t, ok, "cancel revokes the outstanding code")
}

func TestUploadDialogue(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, UploadNone, h.m.UploadMode(5))
	assert.False(t, h.m.MarkFormReceived(5))

	h.m.OpenUpload(5, UploadForm)
	assert.Equal(t, UploadForm, h.m.UploadMode(5))
	assert.True(t, h.m.MarkFormReceived(5))
	assert.False(t, h.m.MarkFormReceived(5), "only one form per upload")

	h.m.OpenUpload(5, UploadDocuments)
	assert.Equal(t, UploadDocuments, h.m.UploadMode(5))
	assert.False(t, h.m.MarkFormReceived(5))

	// upload dialogues do not expire with the register/login TTL
	h.advance(time.Hour)
	assert.Equal(t, UploadDocuments, h.m.UploadMode(5))

	h.m.CloseUpload(5)
	assert.Equal(t, UploadNone, h.m.UploadMode(5))
	assert.Zero(t, h.m.Len())
	h.m.CloseUpload(5)
}

func TestUploadAndDialogueCoexist(t *testing.T) {
	h := newHarness(t)
	h.m.OpenUpload(6, UploadDocuments)
	h.m.StartRegistration(6)

	h.m.Drop(6)
	_, ok := h.m.Snapshot(6)
	assert.False(t, ok)
}

func mustSnap(t *testing.T, m *Machine, chatID int64) Context {
	t.Helper()
	s, ok := m.Snapshot(chatID)
	require.True(t, ok)
	return s
}
