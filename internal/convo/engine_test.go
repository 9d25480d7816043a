package convo

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Titusvirous/ToxicInfoBot/internal/ledger"
	"github.com/Titusvirous/ToxicInfoBot/internal/logging"
	"github.com/Titusvirous/ToxicInfoBot/internal/numinfo"
	"github.com/Titusvirous/ToxicInfoBot/internal/repo"
	"github.com/Titusvirous/ToxicInfoBot/internal/tg"
)

const adminID int64 = 1000

type sentMessage struct {
	ChatID int64
	Text   string
	Opts   tg.SendOptions
}

type fakeChat struct {
	mu        sync.Mutex
	nextID    int
	sent      []sentMessage
	edits     []sentMessage
	deleted   []int
	attempts  map[int64]int
	failFor   map[int64]bool
	status    tg.MemberStatus
	statusErr error
}

func (f *fakeChat) SendText(_ context.Context, chatID int64, text string, opts tg.SendOptions) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[chatID]++
	if f.failFor[chatID] {
		return 0, errors.New("bot was blocked by the user")
	}
	f.nextID++
	f.sent = append(f.sent, sentMessage{ChatID: chatID, Text: text, Opts: opts})
	return f.nextID, nil
}

func (f *fakeChat) EditText(_ context.Context, chatID int64, _ int, text, parseMode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, sentMessage{ChatID: chatID, Text: text, Opts: tg.SendOptions{ParseMode: parseMode}})
	return nil
}

func (f *fakeChat) DeleteMessage(_ context.Context, _ int64, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeChat) GetMembership(context.Context, string, int64) (tg.MemberStatus, error) {
	return f.status, f.statusErr
}

func (f *fakeChat) BotUsername() string { return "infobot" }

func (f *fakeChat) textsTo(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.sent {
		if m.ChatID == chatID {
			out = append(out, m.Text)
		}
	}
	return out
}

func (f *fakeChat) last(chatID int64) sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].ChatID == chatID {
			return f.sent[i]
		}
	}
	return sentMessage{}
}

type fakeLookup struct {
	mu      sync.Mutex
	calls   int
	records []numinfo.Record
	err     error
}

func (f *fakeLookup) Lookup(context.Context, string) ([]numinfo.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.records, f.err
}

type harness struct {
	engine   *Engine
	ledger   *ledger.Service
	store    *repo.MemoryRepository
	chat     *fakeChat
	lookup   *fakeLookup
	sessions *MemorySessions
}

func newHarness(t *testing.T, initialCredits int64) *harness {
	t.Helper()
	store := repo.NewMemory()
	svc := ledger.NewService(store, ledger.Config{InitialCredits: initialCredits, ReferralCredit: 1}, logging.Discard(), nil)
	chat := &fakeChat{attempts: map[int64]int{}, failFor: map[int64]bool{}, status: tg.StatusMember}
	lookup := &fakeLookup{}
	sessions := NewMemorySessions()
	cfg := Config{
		Channel:              "@channel",
		AdminIDs:             []int64{adminID},
		SupportContact:       "@support",
		FlowIdleTimeout:      30 * time.Minute,
		BroadcastRate:        1000,
		BroadcastConcurrency: 4,
	}
	return &harness{
		engine:   NewEngine(cfg, svc, lookup, chat, sessions, logging.Discard(), nil),
		ledger:   svc,
		store:    store,
		chat:     chat,
		lookup:   lookup,
		sessions: sessions,
	}
}

func (h *harness) say(userID int64, text string) {
	h.engine.ProcessMessage(context.Background(), tg.Message{
		UserID:    userID,
		ChatID:    userID,
		FirstName: "User",
		Text:      text,
		Private:   true,
	})
}

func (h *harness) register(t *testing.T, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		if _, _, err := h.ledger.RegisterIfAbsent(context.Background(), id, ledger.Profile{}); err != nil {
			t.Fatalf("register %d: %v", id, err)
		}
	}
}

func (h *harness) account(t *testing.T, id int64) *ledger.Account {
	t.Helper()
	acc, err := h.store.GetAccount(context.Background(), id)
	if err != nil {
		t.Fatalf("get account %d: %v", id, err)
	}
	return acc
}

func (h *harness) flow(t *testing.T, userID int64) *FlowState {
	t.Helper()
	state, err := h.sessions.Get(context.Background(), userID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	return state
}

func TestStartRegistersAndPaysReferral(t *testing.T) {
	h := newHarness(t, 2)
	h.register(t, 1)

	h.say(2, "/start 1")

	if acc := h.account(t, 2); acc.Credits != 2 || acc.SearchCount != 0 {
		t.Fatalf("unexpected new account: %+v", acc)
	}
	ref := h.account(t, 1)
	if ref.Credits != 3 || ref.ReferralCount != 1 {
		t.Fatalf("referrer not paid: %+v", ref)
	}
	if got := h.chat.textsTo(1); len(got) != 1 || !strings.Contains(got[0], "Referral Received") {
		t.Fatalf("referrer notice missing: %q", got)
	}
	if got := h.chat.textsTo(adminID); len(got) != 1 || !strings.Contains(got[0], "New Member Alert") {
		t.Fatalf("admin alert missing: %q", got)
	}
	if got := h.chat.last(2); got.Opts.Keyboard == nil || len(got.Opts.Keyboard.Rows) != 2 {
		t.Fatalf("welcome should carry the base menu: %+v", got)
	}

	// A second /start neither re-grants nor pays again.
	h.say(2, "/start 1")
	if acc := h.account(t, 2); acc.Credits != 2 {
		t.Fatalf("initial credits re-granted: %+v", acc)
	}
	if ref := h.account(t, 1); ref.Credits != 3 || ref.ReferralCount != 1 {
		t.Fatalf("referrer paid twice: %+v", ref)
	}
}

func TestStartSelfReferralPaysNothing(t *testing.T) {
	h := newHarness(t, 2)
	h.say(5, "/start 5")

	acc := h.account(t, 5)
	if acc.Credits != 2 || acc.ReferralCount != 0 {
		t.Fatalf("self referral mutated account: %+v", acc)
	}
}

func TestGate(t *testing.T) {
	tests := []struct {
		name      string
		status    tg.MemberStatus
		statusErr error
		user      int64
		wantText  string
		wantAcc   bool
	}{
		{name: "member", status: tg.StatusMember, user: 7, wantAcc: true},
		{name: "creator", status: tg.StatusCreator, user: 7, wantAcc: true},
		{name: "left", status: tg.StatusLeft, user: 7, wantText: "Access Denied"},
		{name: "kicked", status: tg.StatusKicked, user: 7, wantText: "Access Denied"},
		{name: "lookup error fails closed", statusErr: errors.New("timeout"), user: 7, wantText: msgGateError},
		{name: "admin bypasses", status: tg.StatusLeft, user: adminID, wantAcc: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 2)
			h.chat.status = tt.status
			h.chat.statusErr = tt.statusErr

			h.say(tt.user, "/start")

			_, err := h.store.GetAccount(context.Background(), tt.user)
			if tt.wantAcc && err != nil {
				t.Fatalf("expected account to be created: %v", err)
			}
			if !tt.wantAcc {
				if !errors.Is(err, ledger.ErrNotFound) {
					t.Fatalf("gate let the message through: %v", err)
				}
				got := h.chat.textsTo(tt.user)
				if len(got) != 1 || !strings.Contains(got[0], tt.wantText) {
					t.Fatalf("unexpected replies: %q", got)
				}
			}
		})
	}
}

func TestLookupSuccess(t *testing.T) {
	h := newHarness(t, 1)
	h.register(t, 42)
	h.lookup.records = []numinfo.Record{
		{Name: "A", Address: "X!!Y"},
		{Name: "B"},
	}

	h.say(42, "9876543210")

	if h.lookup.calls != 1 {
		t.Fatalf("expected one external call, got %d", h.lookup.calls)
	}
	acc := h.account(t, 42)
	if acc.Credits != 0 || acc.SearchCount != 1 {
		t.Fatalf("unexpected account after success: %+v", acc)
	}

	texts := h.chat.textsTo(42)
	var records int
	for _, text := range texts {
		if strings.HasPrefix(text, "📊 *Record") {
			records++
		}
	}
	if records != 2 {
		t.Fatalf("expected 2 record messages, got %d: %q", records, texts)
	}
	if last := texts[len(texts)-1]; last != balanceText(0) {
		t.Fatalf("final message = %q, want balance 0", last)
	}
	if len(h.chat.deleted) != 1 {
		t.Fatalf("processing indicator not replaced")
	}
}

func TestLookupFailureRefunds(t *testing.T) {
	for _, lookupErr := range []error{numinfo.ErrUnavailable, numinfo.ErrNoData} {
		t.Run(lookupErr.Error(), func(t *testing.T) {
			h := newHarness(t, 2)
			h.register(t, 42)
			h.lookup.err = lookupErr

			h.say(42, "9876543210")

			acc := h.account(t, 42)
			if acc.Credits != 2 || acc.SearchCount != 0 {
				t.Fatalf("refund did not restore account: %+v", acc)
			}
			if len(h.chat.edits) != 1 || h.chat.edits[0].Text != msgLookupFailed {
				t.Fatalf("indicator not replaced by refund notice: %+v", h.chat.edits)
			}
			if last := h.chat.last(42); last.Text != balanceText(2) {
				t.Fatalf("final message = %q", last.Text)
			}
		})
	}
}

func TestLookupWithoutCreditsNeverCallsAPI(t *testing.T) {
	h := newHarness(t, 0)
	h.register(t, 42)

	h.say(42, "9876543210")

	if h.lookup.calls != 0 {
		t.Fatalf("external API called %d times", h.lookup.calls)
	}
	if acc := h.account(t, 42); acc.Credits != 0 || acc.SearchCount != 0 {
		t.Fatalf("account mutated: %+v", acc)
	}
	if last := h.chat.last(42); last.Text != msgInsufficient {
		t.Fatalf("unexpected reply %q", last.Text)
	}
}

func TestLookupRejectsInvalidQuery(t *testing.T) {
	h := newHarness(t, 2)
	h.register(t, 42)

	for _, q := range []string{"12345", "98765abcde", "hello"} {
		h.say(42, q)
	}
	if h.lookup.calls != 0 {
		t.Fatalf("external API called for invalid input")
	}
	if acc := h.account(t, 42); acc.Credits != 2 {
		t.Fatalf("invalid input consumed credits: %+v", acc)
	}
	if last := h.chat.last(42); last.Text != msgInvalidQuery {
		t.Fatalf("unexpected reply %q", last.Text)
	}
}

func TestLookupUnregistered(t *testing.T) {
	h := newHarness(t, 2)
	h.say(42, "9876543210")
	if last := h.chat.last(42); last.Text != msgRegisterFirst {
		t.Fatalf("unexpected reply %q", last.Text)
	}
	if h.lookup.calls != 0 {
		t.Fatal("external API called for unknown user")
	}
}

func TestCreditGrantWizard(t *testing.T) {
	h := newHarness(t, 2)
	h.register(t, adminID, 55)

	h.say(adminID, ButtonAddCredit)
	if st := h.flow(t, adminID); st == nil || st.Flow != FlowCreditGrant || st.Step != 0 {
		t.Fatalf("wizard not started: %+v", st)
	}

	steps := []struct {
		input    string
		wantStep int
		wantText string
	}{
		{input: "abc", wantStep: 0, wantText: msgGrantInvalidTarget},
		{input: "999", wantStep: 0, wantText: msgGrantUnknownTarget},
		{input: "55", wantStep: 1, wantText: grantAskAmountText("55")},
		{input: "0", wantStep: 1, wantText: msgGrantInvalidAmount},
		{input: "-3", wantStep: 1, wantText: msgGrantInvalidAmount},
		{input: "/start", wantStep: 1, wantText: msgGrantInvalidAmount},
	}
	for _, s := range steps {
		h.say(adminID, s.input)
		st := h.flow(t, adminID)
		if st == nil || st.Step != s.wantStep {
			t.Fatalf("input %q: state %+v, want step %d", s.input, st, s.wantStep)
		}
		if got := h.chat.last(adminID).Text; got != s.wantText {
			t.Fatalf("input %q: reply %q, want %q", s.input, got, s.wantText)
		}
	}

	h.say(adminID, "10")
	if st := h.flow(t, adminID); st != nil {
		t.Fatalf("flow not cleared after completion: %+v", st)
	}
	if acc := h.account(t, 55); acc.Credits != 12 {
		t.Fatalf("expected 12 credits, got %d", acc.Credits)
	}
	if got := h.chat.textsTo(55); len(got) != 1 || got[0] != grantNoticeText("10") {
		t.Fatalf("target not notified: %q", got)
	}
	if got := h.chat.textsTo(adminID); !containsText(got, grantDoneText("10", "55")) {
		t.Fatalf("admin not told about success: %q", got)
	}
}

func TestCreditGrantNotifyFailureKeepsGrant(t *testing.T) {
	h := newHarness(t, 2)
	h.register(t, adminID, 55)
	h.chat.failFor[55] = true

	for _, in := range []string{ButtonAddCredit, "55", "4"} {
		h.say(adminID, in)
	}
	if acc := h.account(t, 55); acc.Credits != 6 {
		t.Fatalf("grant undone by failed notification: %+v", acc)
	}
	if got := h.chat.last(adminID).Text; got != grantDoneText("4", "55") {
		t.Fatalf("unexpected admin reply %q", got)
	}
}

func TestCancelAtEveryStep(t *testing.T) {
	tests := []struct {
		name   string
		inputs []string
	}{
		{name: "grant step 1", inputs: []string{ButtonAddCredit}},
		{name: "grant step 2", inputs: []string{ButtonAddCredit, "55"}},
		{name: "broadcast", inputs: []string{ButtonBroadcast}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 2)
			h.register(t, adminID, 55)
			for _, in := range tt.inputs {
				h.say(adminID, in)
			}
			if h.flow(t, adminID) == nil {
				t.Fatal("flow not active before cancel")
			}

			h.say(adminID, "/cancel")

			if st := h.flow(t, adminID); st != nil {
				t.Fatalf("flow survived cancel: %+v", st)
			}
			last := h.chat.last(adminID)
			if last.Text != msgCancelled || last.Opts.Keyboard == nil || len(last.Opts.Keyboard.Rows) != 4 {
				t.Fatalf("cancel did not restore the admin menu: %+v", last)
			}
			if acc := h.account(t, 55); acc.Credits != 2 {
				t.Fatalf("cancelled flow mutated ledger: %+v", acc)
			}
		})
	}
}

func TestBroadcastCountsEveryRecipient(t *testing.T) {
	h := newHarness(t, 2)
	h.register(t, adminID, 1, 2, 3, 4)
	h.chat.failFor[2] = true
	h.chat.failFor[4] = true

	h.say(adminID, ButtonBroadcast)
	h.say(adminID, "hello everyone")

	for _, id := range []int64{1, 2, 3, 4} {
		if h.chat.attempts[id] != 1 {
			t.Fatalf("recipient %d attempted %d times", id, h.chat.attempts[id])
		}
	}
	want := broadcastDoneText(BroadcastResult{Sent: 3, Failed: 2})
	if got := h.chat.last(adminID).Text; got != want {
		t.Fatalf("report = %q, want %q", got, want)
	}
	if h.flow(t, adminID) != nil {
		t.Fatal("broadcast flow not cleared")
	}
}

func TestNonAdminCannotStartFlows(t *testing.T) {
	h := newHarness(t, 2)
	h.register(t, 7)

	for _, in := range []string{ButtonAddCredit, ButtonBroadcast, ButtonMemberStat} {
		h.say(7, in)
		if h.flow(t, 7) != nil {
			t.Fatalf("%q started a flow for a non-admin", in)
		}
		if got := h.chat.last(7).Text; got != msgInvalidQuery {
			t.Fatalf("%q: unexpected reply %q", in, got)
		}
	}
}

func TestIdleFlowExpires(t *testing.T) {
	h := newHarness(t, 2)
	h.register(t, adminID, 7392785352)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	h.engine.now = func() time.Time { return now }
	h.lookup.records = []numinfo.Record{{Name: "A"}}

	h.say(adminID, ButtonAddCredit)
	now = now.Add(31 * time.Minute)
	h.say(adminID, "7392785352")

	if h.flow(t, adminID) != nil {
		t.Fatal("expired flow still active")
	}
	got := h.chat.last(adminID)
	if got.Text != msgFlowExpired || got.Opts.Keyboard == nil {
		t.Fatalf("expected expiry notice with menu, got %+v", got)
	}
	if h.lookup.calls != 0 {
		t.Fatalf("reply to an expired step ran a lookup, calls=%d", h.lookup.calls)
	}
	if acc := h.account(t, adminID); acc.Credits != 2 || acc.SearchCount != 0 {
		t.Fatalf("admin charged after expiry: %+v", acc)
	}
	if acc := h.account(t, 7392785352); acc.Credits != 2 {
		t.Fatalf("expired grant applied: %+v", acc)
	}

	h.say(adminID, "9876543210")
	if h.lookup.calls != 1 {
		t.Fatalf("next message not handled at top level, lookup calls=%d", h.lookup.calls)
	}
}

func TestFlowWithoutTimeoutNeverExpires(t *testing.T) {
	h := newHarness(t, 2)
	h.engine.cfg.FlowIdleTimeout = 0
	h.register(t, adminID, 7392785352)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	h.engine.now = func() time.Time { return now }

	h.say(adminID, ButtonAddCredit)
	now = now.Add(72 * time.Hour)
	h.say(adminID, "7392785352")

	state := h.flow(t, adminID)
	if state == nil || state.Step != 1 || state.Scratch[keyTarget] != "7392785352" {
		t.Fatalf("stalled flow did not resume: %+v", state)
	}
	if h.lookup.calls != 0 {
		t.Fatalf("flow input ran a lookup, calls=%d", h.lookup.calls)
	}
}

func TestMemberStatus(t *testing.T) {
	h := newHarness(t, 2)
	h.register(t, adminID, 1, 2)

	h.say(adminID, ButtonMemberStat)
	if got := h.chat.last(adminID).Text; got != memberStatusText(3) {
		t.Fatalf("unexpected member status %q", got)
	}
}

func containsText(texts []string, want string) bool {
	for _, t := range texts {
		if t == want {
			return true
		}
	}
	return false
}

func TestInfoCommands(t *testing.T) {
	h := newHarness(t, 2)
	h.register(t, 5)

	tests := []struct {
		text string
		want string
	}{
		{text: "/account", want: "💳 *Your Credits:* 2"},
		{text: ButtonAccount, want: "📊 *Total Searches:* 0"},
		{text: "/help", want: "Get 1 credit per successful referral"},
		{text: ButtonHelp, want: "*Support:* @support"},
		{text: "/refer", want: "`https://t.me/infobot?start=5`"},
		{text: ButtonRefer, want: "They get 2 free credits"},
		{text: "/buy", want: "Contact admin to buy: @support"},
		{text: ButtonBuy, want: "Price List"},
		{text: "/cancel", want: msgNothingToCancel},
		{text: "/unknown", want: msgInvalidQuery},
	}
	for _, tt := range tests {
		h.say(5, tt.text)
		got := h.chat.last(5)
		if !strings.Contains(got.Text, tt.want) {
			t.Errorf("%q replied %q, want it to contain %q", tt.text, got.Text, tt.want)
		}
		if got.Opts.Keyboard == nil {
			t.Errorf("%q reply has no menu", tt.text)
		}
	}
	if h.lookup.calls != 0 {
		t.Fatalf("info commands called the lookup API %d times", h.lookup.calls)
	}
}

// racingStore spends the account's credit on behalf of a concurrent lookup
// right before the engine's own debit.
type racingStore struct {
	*repo.MemoryRepository
	once sync.Once
}

func (s *racingStore) DebitLookup(ctx context.Context, id int64) (*ledger.Account, error) {
	s.once.Do(func() {
		_, _ = s.MemoryRepository.DebitLookup(ctx, id)
	})
	return s.MemoryRepository.DebitLookup(ctx, id)
}

func TestLookupLosesDebitRace(t *testing.T) {
	h := newHarness(t, 1)
	h.register(t, 9)
	svc := ledger.NewService(&racingStore{MemoryRepository: h.store}, ledger.Config{InitialCredits: 1, ReferralCredit: 1}, logging.Discard(), nil)
	h.engine.ledger = svc
	h.lookup.records = []numinfo.Record{{Name: "A"}}

	h.say(9, "9876543210")

	if h.lookup.calls != 0 {
		t.Fatalf("lookup API called after a lost debit, calls=%d", h.lookup.calls)
	}
	if len(h.chat.edits) != 1 || h.chat.edits[0].Text != msgLostDebitRace {
		t.Fatalf("processing indicator not replaced with the race notice: %+v", h.chat.edits)
	}
	if got := h.chat.last(9).Text; got != balanceText(0) {
		t.Fatalf("expected balance report, got %q", got)
	}
	if acc := h.account(t, 9); acc.Credits != 0 || acc.SearchCount != 1 {
		t.Fatalf("only the competing lookup should be charged: %+v", acc)
	}
}
