package rules

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Auditware/radar/internal/ir"
	"github.com/Auditware/radar/internal/model"
	"github.com/Auditware/radar/internal/normalize"
	"github.com/Auditware/radar/internal/syntax"
)

func stylus(fields, body string) string {
	return fmt.Sprintf(`
#[storage]
#[entrypoint]
pub struct Contract {
%s
}

#[public]
impl Contract {
%s
}
`, fields, body)
}

func handlersOf(t *testing.T, d model.Dialect, src string) []*ir.Handler {
	t.Helper()
	tree, err := syntax.NewRustFrontend().Parse(context.Background(), []byte(src))
	require.NoError(t, err)
	res, err := normalize.New(nil).Normalize(tree, model.SourceUnit{Path: "lib.rs", Dialect: d, Text: []byte(src)})
	require.NoError(t, err)
	require.Empty(t, res.Failures)
	require.NotEmpty(t, res.Handlers)
	return res.Handlers
}

func ruleByID(t *testing.T, id string) Rule {
	t.Helper()
	bs, err := DefaultBoundaries()
	require.NoError(t, err)
	for _, r := range Builtin(bs) {
		if r.Meta().ID == id {
			return r
		}
	}
	require.FailNow(t, "no such rule", id)
	return nil
}

func matches(t *testing.T, id string, d model.Dialect, src string) []Match {
	t.Helper()
	r := ruleByID(t, id)
	var out []Match
	for _, h := range handlersOf(t, d, src) {
		if Applies(r.Meta(), h.Dialect) {
			out = append(out, r.Check(h)...)
		}
	}
	return out
}

const anchorPrelude = `use anchor_lang::prelude::*;

declare_id!("Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS");
`

func TestRulePairs(t *testing.T) {
	cases := []struct {
		name     string
		rule     string
		dialect  model.Dialect
		insecure string
		secure   string
	}{
		{
			name:    "authority over caller-keyed balance",
			rule:    "AUTH-MISSING-CHECK",
			dialect: model.DialectStylus,
			insecure: stylus(`    balances: StorageMap<Address, StorageU256>,`, `
    pub fn withdraw_for(&mut self, holder: Address, amount: U256) -> Result<(), Vec<u8>> {
        let bal = self.balances.get(holder);
        self.balances.insert(holder, bal - amount);
        Ok(())
    }`),
			secure: stylus(`    balances: StorageMap<Address, StorageU256>,`, `
    pub fn withdraw_for(&mut self, holder: Address, amount: U256) -> Result<(), Vec<u8>> {
        if msg::sender() != holder {
            return Err(vec![1]);
        }
        let bal = self.balances.get(holder);
        self.balances.insert(holder, bal - amount);
        Ok(())
    }`),
		},
		{
			name:    "reinitialization",
			rule:    "INIT-REINITIALIZATION",
			dialect: model.DialectStylus,
			insecure: stylus(`    owner: StorageAddress,
    initialized: StorageBool,`, `
    pub fn initialize(&mut self, owner: Address) {
        self.owner.set(owner);
        self.initialized.set(true);
    }`),
			secure: stylus(`    owner: StorageAddress,
    initialized: StorageBool,`, `
    pub fn initialize(&mut self, owner: Address) -> Result<(), Vec<u8>> {
        if self.initialized.get() {
            return Err(vec![1]);
        }
        self.owner.set(owner);
        self.initialized.set(true);
        Ok(())
    }`),
		},
		{
			name:    "precreation",
			rule:    "INIT-PRECREATION",
			dialect: model.DialectStylus,
			insecure: stylus(`    owners: StorageMap<Address, StorageAddress>,`, `
    pub fn assign_owner(&mut self, account: Address, owner: Address) {
        self.owners.insert(account, owner);
    }`),
			secure: stylus(`    owners: StorageMap<Address, StorageAddress>,`, `
    pub fn assign_owner(&mut self, account: Address, owner: Address) -> Result<(), Vec<u8>> {
        if self.owners.get(account) != Address::ZERO {
            return Err(vec![1]);
        }
        self.owners.insert(account, owner);
        Ok(())
    }`),
		},
		{
			name:    "arbitrary call target",
			rule:    "CALL-ARBITRARY-TARGET",
			dialect: model.DialectStylus,
			insecure: stylus(`    trusted: StorageAddress,`, `
    pub fn forward(&mut self, target: Address, data: Vec<u8>) -> Result<(), Vec<u8>> {
        Call::new().call(target, &data)?;
        Ok(())
    }`),
			secure: stylus(`    trusted: StorageAddress,`, `
    pub fn forward(&mut self, data: Vec<u8>) -> Result<(), Vec<u8>> {
        let target = self.trusted.get();
        Call::new().call(target, &data)?;
        Ok(())
    }`),
		},
		{
			name:    "unchecked addition",
			rule:    "MATH-UNCHECKED",
			dialect: model.DialectStylus,
			insecure: stylus(`    balance: StorageU256,`, `
    pub fn add(&mut self, amount: U256) {
        self.balance.set(self.balance.get() + amount);
    }`),
			secure: stylus(`    balance: StorageU256,`, `
    pub fn add(&mut self, amount: U256) -> Result<(), Vec<u8>> {
        let next = self.balance.get().checked_add(amount).ok_or(vec![1])?;
        self.balance.set(next);
        Ok(())
    }`),
		},
		{
			name:     "division before multiplication",
			rule:     "MATH-DIV-BEFORE-MUL",
			dialect:  model.DialectStylus,
			insecure: stylus(``, `
    pub fn fee(&self, amount: U256) -> U256 {
        (amount / U256::from(100)) * U256::from(3)
    }`),
			secure: stylus(``, `
    pub fn fee(&self, amount: U256) -> U256 {
        (amount * U256::from(3)) / U256::from(100)
    }`),
		},
		{
			name:     "unbounded discount",
			rule:     "MATH-UNBOUNDED-PERCENT",
			dialect:  model.DialectStylus,
			insecure: stylus(``, `
    pub fn discounted(&self, price: U256, pct: U256) -> U256 {
        price - price * pct / U256::from(100)
    }`),
			secure: stylus(``, `
    pub fn discounted(&self, price: U256, pct: U256) -> U256 {
        if pct > U256::from(100) {
            return U256::ZERO;
        }
        price - price * pct / U256::from(100)
    }`),
		},
		{
			name:    "state written after call",
			rule:    "CALL-REENTRANCY-ORDER",
			dialect: model.DialectStylus,
			insecure: stylus(`    balance: StorageMap<Address, StorageU256>,`, `
    pub fn withdraw(&mut self, recipient: Address) -> Result<(), Vec<u8>> {
        let amount = self.balance.get(msg::sender());
        Call::new().value(amount).call(recipient, &[])?;
        self.balance.insert(msg::sender(), U256::ZERO);
        Ok(())
    }`),
			secure: stylus(`    balance: StorageMap<Address, StorageU256>,`, `
    pub fn withdraw(&mut self, recipient: Address) -> Result<(), Vec<u8>> {
        let amount = self.balance.get(msg::sender());
        self.balance.insert(msg::sender(), U256::ZERO);
        Call::new().value(amount).call(recipient, &[])?;
        Ok(())
    }`),
		},
		{
			name:    "close without marker",
			rule:    "ACCT-IMPROPER-CLOSE",
			dialect: model.DialectStylus,
			insecure: stylus(`    balance: StorageMap<Address, StorageU256>,`, `
    pub fn close_account(&mut self, account: Address) {
        self.balance.insert(account, U256::from(0));
    }`),
			secure: stylus(`    balance: StorageMap<Address, StorageU256>,
    closed: StorageMap<Address, StorageBool>,`, `
    pub fn close_account(&mut self, account: Address) {
        self.balance.insert(account, U256::from(0));
        self.closed.setter(account).set(true);
    }`),
		},
		{
			name:    "aliased balances",
			rule:    "ACCT-DUPLICATE-MUTABLE",
			dialect: model.DialectStylus,
			insecure: stylus(`    balance_a: StorageMap<Address, StorageU256>,
    balance_b: StorageMap<Address, StorageU256>,`, `
    pub fn transfer(&mut self, account: Address, amount: U256) {
        let bal_a = self.balance_a.get(account);
        self.balance_a.insert(account, bal_a - amount);
        let bal_b = self.balance_b.get(account);
        self.balance_b.insert(account, bal_b + amount);
    }`),
			secure: stylus(`    balances: StorageMap<Address, StorageU256>,`, `
    pub fn transfer(&mut self, from: Address, to: Address, amount: U256) -> Result<(), Vec<u8>> {
        if from == to {
            return Err(vec![1]);
        }
        let bal_from = self.balances.get(from);
        self.balances.insert(from, bal_from - amount);
        let bal_to = self.balances.get(to);
        self.balances.insert(to, bal_to + amount);
        Ok(())
    }`),
		},
		{
			name:     "caller bump",
			rule:     "PDA-NONCANONICAL-BUMP",
			dialect:  model.DialectStylus,
			insecure: stylus(``, `
    pub fn derive(&self, seed: U256, bump: u8) -> Address {
        let mut data = Vec::new();
        data.extend_from_slice(&seed.to_be_bytes::<32>());
        data.push(bump);
        let hash = keccak256(&data);
        Address::from_slice(&hash[0..20])
    }`),
			secure: stylus(``, `
    pub fn derive(&self, seed: U256) -> Address {
        let canonical_bump = 255u8;
        let mut data = Vec::new();
        data.extend_from_slice(&seed.to_be_bytes::<32>());
        data.push(canonical_bump);
        let hash = keccak256(&data);
        Address::from_slice(&hash[0..20])
    }`),
		},
		{
			name:     "decode without discriminator",
			rule:     "ACCT-TYPE-CONFUSION",
			dialect:  model.DialectStylus,
			insecure: stylus(`    expected_type: StorageU256,`, `
    pub fn decode(&self, data: Vec<u8>) -> U256 {
        U256::try_from_be_slice(&data).unwrap_or(U256::ZERO)
    }`),
			secure: stylus(`    expected_type: StorageU256,`, `
    pub fn decode(&self, data: Vec<u8>, type_id: U256) -> Result<U256, Vec<u8>> {
        if type_id != self.expected_type.get() {
            return Err(vec![1]);
        }
        U256::try_from_be_slice(&data).ok_or(vec![2])
    }`),
		},
		{
			name:     "timestamp from unpinned source",
			rule:     "SYSVAR-UNVALIDATED-SOURCE",
			dialect:  model.DialectStylus,
			insecure: stylus(`    trusted_source: StorageAddress,`, `
    pub fn now(&self) -> U256 {
        U256::from(block::timestamp())
    }`),
			secure: stylus(`    trusted_source: StorageAddress,`, `
    pub fn now(&self, source: Address) -> Result<U256, Vec<u8>> {
        if source != self.trusted_source.get() {
            return Err(vec![1]);
        }
        Ok(U256::from(block::timestamp()))
    }`),
		},
		{
			name:     "strict limit",
			rule:     "CMP-OFF-BY-ONE",
			dialect:  model.DialectStylus,
			insecure: stylus(`    max_supply: StorageU256,`, `
    pub fn check_limit(&self, amount: U256) -> Result<(), Vec<u8>> {
        if amount < self.max_supply.get() {
            return Err(vec![1]);
        }
        Ok(())
    }`),
			secure: stylus(`    max_supply: StorageU256,`, `
    pub fn check_limit(&self, amount: U256) -> Result<(), Vec<u8>> {
        if amount <= self.max_supply.get() {
            return Err(vec![1]);
        }
        Ok(())
    }`),
		},
		{
			name:    "withdraw below rent",
			rule:    "ACCT-RENT-EXEMPTION",
			dialect: model.DialectAnchor,
			insecure: anchorPrelude + `
#[program]
pub mod vault {
    use super::*;

    pub fn withdraw(ctx: Context<Withdraw>, amount: u64) -> Result<()> {
        **ctx.accounts.vault.to_account_info().try_borrow_mut_lamports()? -= amount;
        **ctx.accounts.user.to_account_info().try_borrow_mut_lamports()? += amount;
        Ok(())
    }
}

#[derive(Accounts)]
pub struct Withdraw<'info> {
    #[account(mut, has_one = user)]
    pub vault: Account<'info, Vault>,
    #[account(mut)]
    pub user: Signer<'info>,
}
`,
			secure: anchorPrelude + `
#[program]
pub mod vault {
    use super::*;

    pub fn withdraw(ctx: Context<Withdraw>, amount: u64) -> Result<()> {
        let floor = Rent::get()?.minimum_balance(48);
        require!(ctx.accounts.vault.to_account_info().lamports() >= floor + amount, VaultError::BelowRent);
        **ctx.accounts.vault.to_account_info().try_borrow_mut_lamports()? -= amount;
        **ctx.accounts.user.to_account_info().try_borrow_mut_lamports()? += amount;
        Ok(())
    }
}

#[derive(Accounts)]
pub struct Withdraw<'info> {
    #[account(mut, has_one = user)]
    pub vault: Account<'info, Vault>,
    #[account(mut)]
    pub user: Signer<'info>,
}
`,
		},
		{
			name:     "caller passed as argument",
			rule:     "AUTH-MISSING-SIGNER",
			dialect:  model.DialectStylus,
			insecure: stylus(`    value: StorageU256,`, `
    pub fn set_value(&mut self, new_value: U256, caller: Address) {
        self.value.set(new_value);
    }`),
			secure: stylus(`    value: StorageU256,`, `
    pub fn set_value(&mut self, new_value: U256) {
        self.value.set(new_value);
    }`),
		},
		{
			name:     "discarded call result",
			rule:     "CALL-UNCHECKED-RESULT",
			dialect:  model.DialectStylus,
			insecure: stylus(`    router: StorageAddress,`, `
    pub fn poke(&mut self, data: Vec<u8>) {
        let _ = Call::new().call(self.router.get(), &data);
    }`),
			secure: stylus(`    router: StorageAddress,`, `
    pub fn poke(&mut self, data: Vec<u8>) -> Result<(), Vec<u8>> {
        Call::new().call(self.router.get(), &data)?;
        Ok(())
    }`),
		},
		{
			name:     "division by argument",
			rule:     "MATH-DIV-BY-ZERO",
			dialect:  model.DialectStylus,
			insecure: stylus(``, `
    pub fn calculate(&self, amount: U256, divisor: U256) -> U256 {
        amount / divisor
    }`),
			secure: stylus(``, `
    pub fn calculate(&self, amount: U256, divisor: U256) -> Result<U256, Vec<u8>> {
        amount.checked_div(divisor).ok_or(vec![1])
    }`),
		},
		{
			name:     "fee without bound",
			rule:     "FEE-UNVALIDATED-ASSIGNMENT",
			dialect:  model.DialectStylus,
			insecure: stylus(`    fee_rate: StorageU256,`, `
    pub fn set_fee_rate(&mut self, new_fee_rate: U256) {
        self.fee_rate.set(new_fee_rate);
    }`),
			secure: stylus(`    fee_rate: StorageU256,`, `
    pub fn set_fee_rate(&mut self, new_fee_rate: U256) -> Result<(), Vec<u8>> {
        if new_fee_rate > U256::from(1000) {
            return Err(vec![2]);
        }
        self.fee_rate.set(new_fee_rate);
        Ok(())
    }`),
		},
		{
			name:     "unused argument",
			rule:     "PARAM-UNUSED",
			dialect:  model.DialectStylus,
			insecure: stylus(`    value: StorageU256,`, `
    pub fn set_value(&mut self, new_value: U256, unused_param: U256) {
        self.value.set(new_value);
    }`),
			secure: stylus(`    value: StorageU256,`, `
    pub fn set_value(&mut self, new_value: U256, _legacy: U256) {
        self.value.set(new_value);
    }`),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bad := matches(t, tc.rule, tc.dialect, tc.insecure)
			assert.Len(t, bad, 1, "insecure variant")
			for _, m := range bad {
				assert.NotEmpty(t, m.Message)
				assert.Greater(t, m.Anchor.Len(), 0)
			}
			assert.Empty(t, matches(t, tc.rule, tc.dialect, tc.secure), "secure variant")
		})
	}
}

func TestAuthorityReportsOncePerHandler(t *testing.T) {
	src := stylus(`    balances: StorageMap<Address, StorageU256>,
    owner: StorageAddress,`, `
    pub fn sweep(&mut self, a: Address, b: Address, next: Address) {
        self.balances.insert(a, U256::ZERO);
        self.balances.insert(b, U256::ZERO);
        self.owner.set(next);
    }`)
	ms := matches(t, "AUTH-MISSING-CHECK", model.DialectStylus, src)
	require.Len(t, ms, 1)
	assert.Len(t, ms[0].Evidence, 3)
	assert.Equal(t, ms[0].Evidence[0], ms[0].Anchor)
}

func TestAnchorMissingSigner(t *testing.T) {
	src := anchorPrelude + `
#[program]
pub mod admin {
    use super::*;

    pub fn set_admin(ctx: Context<SetAdmin>) -> Result<()> {
        ctx.accounts.config.admin = ctx.accounts.new_admin.key();
        Ok(())
    }
}

#[derive(Accounts)]
pub struct SetAdmin<'info> {
    #[account(mut)]
    pub config: Account<'info, Config>,
    /// CHECK: unchecked
    pub authority: AccountInfo<'info>,
    /// CHECK: unchecked
    pub new_admin: AccountInfo<'info>,
}
`
	ms := matches(t, "AUTH-MISSING-SIGNER", model.DialectAnchor, src)
	require.Len(t, ms, 2)
	assert.Contains(t, ms[0].Message, "authority")
	assert.Contains(t, ms[1].Message, "new_admin")
}

func TestDialectFilter(t *testing.T) {
	r := ruleByID(t, "CALL-REENTRANCY-ORDER")
	assert.True(t, Applies(r.Meta(), model.DialectStylus))
	assert.False(t, Applies(r.Meta(), model.DialectAnchor))
	assert.True(t, Applies(ruleByID(t, "MATH-UNCHECKED").Meta(), model.DialectAnchor))
}

func TestCatalog(t *testing.T) {
	c, err := NewCatalog(Options{
		Disabled:   []string{"PARAM-UNUSED"},
		Severities: map[string]string{"CMP-OFF-BY-ONE": "high"},
	})
	require.NoError(t, err)

	assert.Len(t, c.Entries(), 19)
	assert.False(t, c.Enabled("PARAM-UNUSED"))
	assert.True(t, c.Enabled("CMP-OFF-BY-ONE"))

	m, ok := c.Meta("CMP-OFF-BY-ONE")
	require.True(t, ok)
	assert.Equal(t, model.SeverityHigh, m.Severity)
	for _, e := range c.Entries() {
		if e.Meta.ID == "CMP-OFF-BY-ONE" {
			assert.Equal(t, model.SeverityHigh, e.Meta.Severity)
		}
	}

	_, ok = c.Meta(RuleFaultID)
	assert.True(t, ok)
	assert.Len(t, c.Metas(), 22)

	ids := map[string]bool{}
	for _, m := range c.Metas() {
		assert.False(t, ids[m.ID], "duplicate id %s", m.ID)
		ids[m.ID] = true
		assert.NotEmpty(t, m.Category)
		assert.NotEmpty(t, m.Remediation)
	}
}

func TestCatalogRejectsBadSettings(t *testing.T) {
	_, err := NewCatalog(Options{Disabled: []string{"NOPE"}})
	assert.ErrorContains(t, err, "NOPE")

	_, err = NewCatalog(Options{Severities: map[string]string{"MATH-UNCHECKED": "urgent"}})
	assert.ErrorContains(t, err, "urgent")

	_, err = NewCatalog(Options{Extra: []Rule{&divByZero{}}})
	assert.ErrorContains(t, err, "duplicate rule id")
}

func TestBoundaries(t *testing.T) {
	bs, err := DefaultBoundaries()
	require.NoError(t, err)

	tests := []struct {
		field string
		want  string
		ok    bool
	}{
		{"max_supply", "<=", true},
		{"MAX", "<=", true},
		{"deadline", "<=", true},
		{"min_deposit", ">=", true},
		{"minted", "", false},
		{"amount", "", false},
	}
	for _, tt := range tests {
		got, ok := lookupBoundary(bs, tt.field)
		assert.Equal(t, tt.ok, ok, tt.field)
		assert.Equal(t, tt.want, got, tt.field)
	}

	_, err = ParseBoundaries([]byte("- field: cap\n  operator: \"<\"\n"))
	assert.Error(t, err)
	custom, err := ParseBoundaries([]byte("- field: ceiling\n  operator: \"<=\"\n"))
	require.NoError(t, err)
	assert.Equal(t, []Boundary{{Field: "ceiling", Operator: "<="}}, custom)
}

func TestReentrancyLockMustCoverCall(t *testing.T) {
	fields := `    balance: StorageMap<Address, StorageU256>,
    unlock_time: StorageU256,
    locked: StorageBool,`
	tests := []struct {
		name  string
		body  string
		wantN int
	}{
		{
			name: "time lock is not a reentrancy lock",
			body: `
    pub fn withdraw(&mut self, recipient: Address) -> Result<(), Vec<u8>> {
        if U256::from(block::timestamp()) < self.unlock_time.get() {
            return Err(vec![1]);
        }
        let amount = self.balance.get(msg::sender());
        Call::new().value(amount).call(recipient, &[])?;
        self.balance.insert(msg::sender(), U256::ZERO);
        Ok(())
    }`,
			wantN: 1,
		},
		{
			name: "lock checked in an unrelated branch",
			body: `
    pub fn withdraw(&mut self, recipient: Address) -> Result<(), Vec<u8>> {
        let amount = self.balance.get(msg::sender());
        if self.locked.get() {
            self.unlock_time.set(U256::ZERO);
        }
        Call::new().value(amount).call(recipient, &[])?;
        self.balance.insert(msg::sender(), U256::ZERO);
        Ok(())
    }`,
			wantN: 1,
		},
		{
			name: "lock held across the call",
			body: `
    pub fn withdraw(&mut self, recipient: Address) -> Result<(), Vec<u8>> {
        if self.locked.get() {
            return Err(vec![1]);
        }
        self.locked.set(true);
        let amount = self.balance.get(msg::sender());
        Call::new().value(amount).call(recipient, &[])?;
        self.balance.insert(msg::sender(), U256::ZERO);
        self.locked.set(false);
        Ok(())
    }`,
			wantN: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ms := matches(t, "CALL-REENTRANCY-ORDER", model.DialectStylus, stylus(fields, tt.body))
			assert.Len(t, ms, tt.wantN)
		})
	}
}

func TestReentrancyLockWords(t *testing.T) {
	for _, name := range []string{"locked", "is_locked", "reentrancy_guard", "entered", "self.mutex", "nonreentrant"} {
		assert.True(t, reentrancyLock(name), name)
	}
	for _, name := range []string{"block::timestamp", "unlock_time", "blocklist", "clock", "timelock_end"} {
		assert.False(t, reentrancyLock(name), name)
	}
}

func TestAuthorityCredits(t *testing.T) {
	tests := []struct {
		name   string
		fields string
		body   string
		wantN  int
	}{
		{
			name:   "supply minted by anyone",
			fields: `    total_supply: StorageU256,`,
			body: `
    pub fn mint(&mut self, amount: U256) -> U256 {
        let new_supply = self.total_supply.get() + amount;
        self.total_supply.set(new_supply);
        new_supply
    }`,
			wantN: 1,
		},
		{
			name:   "balance minted to any address",
			fields: `    balances: StorageMap<Address, StorageU256>,`,
			body: `
    pub fn mint(&mut self, to: Address, amount: U256) {
        let b = self.balances.get(to);
        self.balances.insert(to, b + amount);
    }`,
			wantN: 1,
		},
		{
			name:   "credit paid by the caller",
			fields: `    balances: StorageMap<Address, StorageU256>,`,
			body: `
    pub fn transfer(&mut self, to: Address, amount: U256) {
        let mine = self.balances.get(msg::sender());
        self.balances.insert(msg::sender(), mine - amount);
        let theirs = self.balances.get(to);
        self.balances.insert(to, theirs + amount);
    }`,
			wantN: 0,
		},
		{
			name:   "owner-gated mint",
			fields: "    owner: StorageAddress,\n    total_supply: StorageU256,",
			body: `
    pub fn mint(&mut self, amount: U256) -> Result<U256, Vec<u8>> {
        if msg::sender() != self.owner.get() {
            return Err(vec![1]);
        }
        let new_supply = self.total_supply.get() + amount;
        self.total_supply.set(new_supply);
        Ok(new_supply)
    }`,
			wantN: 0,
		},
		{
			name:   "constant overwritten",
			fields: `    constant_value: StorageU256,`,
			body: `
    pub fn update(&mut self) {
        self.constant_value.set(U256::from(100));
    }`,
			wantN: 1,
		},
		{
			name:   "mutable value overwritten",
			fields: `    mutable_value: StorageU256,`,
			body: `
    pub fn update(&mut self) {
        self.mutable_value.set(U256::from(100));
    }`,
			wantN: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ms := matches(t, "AUTH-MISSING-CHECK", model.DialectStylus, stylus(tt.fields, tt.body))
			assert.Len(t, ms, tt.wantN)
		})
	}
}

func TestSysvarPinRequiresAddress(t *testing.T) {
	fields := `    cap: StorageU256,
    trusted_feed: StorageAddress,`
	tests := []struct {
		name  string
		body  string
		wantN int
	}{
		{
			name: "amount compared to stored cap",
			body: `
    pub fn now(&self, amount: U256) -> Result<U256, Vec<u8>> {
        if amount != self.cap.get() {
            return Err(vec![1]);
        }
        Ok(U256::from(block::timestamp()))
    }`,
			wantN: 1,
		},
		{
			name: "oracle read from a different address than the one checked",
			body: `
    pub fn price(&self, feed: Address, other: Address) -> Result<U256, Vec<u8>> {
        if other != self.trusted_feed.get() {
            return Err(vec![1]);
        }
        let answer = IOracle::new(feed).latest_answer(self)?;
        Ok(answer)
    }`,
			wantN: 1,
		},
		{
			name: "oracle read from the checked address",
			body: `
    pub fn price(&self, feed: Address) -> Result<U256, Vec<u8>> {
        if feed != self.trusted_feed.get() {
            return Err(vec![1]);
        }
        let answer = IOracle::new(feed).latest_answer(self)?;
        Ok(answer)
    }`,
			wantN: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ms := matches(t, "SYSVAR-UNVALIDATED-SOURCE", model.DialectStylus, stylus(fields, tt.body))
			assert.Len(t, ms, tt.wantN)
		})
	}
}

func TestFixedSeedAuthority(t *testing.T) {
	ms := matches(t, "PDA-NONCANONICAL-BUMP", model.DialectStylus, stylus(``, `
    pub fn generate_authority(&self) -> Address {
        let unique_bytes = keccak256(b"random");
        Address::from_slice(&unique_bytes[0..20])
    }`))
	require.Len(t, ms, 1)
	assert.Contains(t, ms[0].Message, "fixed seed")

	assert.Empty(t, matches(t, "PDA-NONCANONICAL-BUMP", model.DialectStylus, stylus(``, `
    pub fn digest(&self) -> B256 {
        keccak256(b"domain")
    }`)))
}
