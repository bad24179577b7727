package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalGenerator creates balanced journal batches from engine operations.
// Amounts passed in are MEASURED amounts (post transfer-guard), never the
// requested amounts, so the audit trail reflects what actually moved.
type JournalGenerator struct {
	sequence       int64
	tracker        *BalanceTracker
	baseAsset      AssetID
	principalAsset AssetID
	yieldAsset     AssetID
}

func NewJournalGenerator(startSequence int64, tracker *BalanceTracker, base, principal, yield AssetID) *JournalGenerator {
	return &JournalGenerator{
		sequence:       startSequence,
		tracker:        tracker,
		baseAsset:      base,
		principalAsset: principal,
		yieldAsset:     yield,
	}
}

// Sequence returns the next batch sequence to be assigned
func (jg *JournalGenerator) Sequence() int64 {
	return jg.sequence
}

func (jg *JournalGenerator) newBatch(eventRef string, timestamp int64, capacity int) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, capacity),
	}
}

func (jg *JournalGenerator) appendJournal(b *Batch, debit, credit AccountKey, assetID AssetID, amount int64, jt JournalType) {
	if amount <= 0 {
		return
	}
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		Sequence:      b.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       assetID,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     b.Timestamp,
	})
}

// GenerateDeposit records collateral arriving from the owner's wallet.
// Moves funds: external:deposits → user:collateral
func (jg *JournalGenerator) GenerateDeposit(
	ownerID uuid.UUID,
	eventRef string,
	received int64,
	timestamp int64,
) (*Batch, error) {
	batch := jg.newBatch(eventRef, timestamp, 1)

	jg.appendJournal(batch,
		NewUserAccountKey(ownerID, SubTypeCollateral, jg.baseAsset),
		NewExternalAccountKey(SubTypeExternalDeposits, jg.baseAsset),
		jg.baseAsset, received, JournalTypeDeposit)

	if err := batch.Validate(); err != nil {
		return nil, err
	}
	jg.sequence++
	return batch, nil
}

// LoopLeg carries the measured amounts of one loop iteration
type LoopLeg struct {
	Spent        int64 // Base asset consumed by the mint
	PrincipalOut int64 // Principal claims received
	YieldOut     int64 // Yield claims received
	Supplied     int64 // Principal claims posted as lending collateral
	Borrowed     int64 // Base asset received from the borrow
}

// GenerateLoopIteration records one mint → supply → borrow leg.
// Mint: base leaves via external:derivative_market, claims come back.
// Supply: principal claims move to external:lending_market.
// Borrow: base arrives against user:debt (the debt account goes negative,
// representing the outstanding liability).
func (jg *JournalGenerator) GenerateLoopIteration(
	ownerID uuid.UUID,
	eventRef string,
	leg LoopLeg,
	timestamp int64,
) (*Batch, error) {
	batch := jg.newBatch(eventRef, timestamp, 5)

	jg.appendJournal(batch,
		NewExternalAccountKey(SubTypeExternalDerivativeMarket, jg.baseAsset),
		NewUserAccountKey(ownerID, SubTypeCollateral, jg.baseAsset),
		jg.baseAsset, leg.Spent, JournalTypeMintSpend)

	jg.appendJournal(batch,
		NewUserAccountKey(ownerID, SubTypePrincipalClaim, jg.principalAsset),
		NewExternalAccountKey(SubTypeExternalDerivativeMarket, jg.principalAsset),
		jg.principalAsset, leg.PrincipalOut, JournalTypeMintPrincipal)

	jg.appendJournal(batch,
		NewUserAccountKey(ownerID, SubTypeYieldClaim, jg.yieldAsset),
		NewExternalAccountKey(SubTypeExternalDerivativeMarket, jg.yieldAsset),
		jg.yieldAsset, leg.YieldOut, JournalTypeMintYield)

	jg.appendJournal(batch,
		NewExternalAccountKey(SubTypeExternalLendingMarket, jg.principalAsset),
		NewUserAccountKey(ownerID, SubTypePrincipalClaim, jg.principalAsset),
		jg.principalAsset, leg.Supplied, JournalTypeSupply)

	jg.appendJournal(batch,
		NewUserAccountKey(ownerID, SubTypeCollateral, jg.baseAsset),
		NewUserAccountKey(ownerID, SubTypeDebt, jg.baseAsset),
		jg.baseAsset, leg.Borrowed, JournalTypeBorrow)

	if err := batch.Validate(); err != nil {
		return nil, err
	}
	jg.sequence++
	return batch, nil
}

// UnwindLeg carries the measured amounts of a full close
type UnwindLeg struct {
	Withdrawn         int64 // Principal claims pulled back from lending
	RedeemedPrincipal int64 // Principal claims burned at redeem
	RedeemedYield     int64 // Yield claims burned at redeem
	Proceeds          int64 // Base asset received from redeem
	Repaid            int64 // Base asset handed back to the lending market
	Payout            int64 // Base asset measured at the recipient wallet
	Fee               int64 // Base asset lost in transit on the payout transfer
}

// GenerateUnwind records the full reverse sequence of a close or liquidation
func (jg *JournalGenerator) GenerateUnwind(
	ownerID uuid.UUID,
	eventRef string,
	leg UnwindLeg,
	timestamp int64,
) (*Batch, error) {
	// PRE-CHECK: repaying more than the recorded debt would flip the
	// liability account positive and break the zero-sum audit trail.
	if recorded := jg.tracker.GetUserDebt(ownerID, jg.baseAsset); leg.Repaid > recorded {
		return nil, fmt.Errorf("unwind pre-check failed: repay %d exceeds recorded debt %d",
			leg.Repaid, recorded)
	}

	batch := jg.newBatch(eventRef, timestamp, 7)

	jg.appendJournal(batch,
		NewUserAccountKey(ownerID, SubTypePrincipalClaim, jg.principalAsset),
		NewExternalAccountKey(SubTypeExternalLendingMarket, jg.principalAsset),
		jg.principalAsset, leg.Withdrawn, JournalTypeWithdrawClaim)

	jg.appendJournal(batch,
		NewExternalAccountKey(SubTypeExternalDerivativeMarket, jg.principalAsset),
		NewUserAccountKey(ownerID, SubTypePrincipalClaim, jg.principalAsset),
		jg.principalAsset, leg.RedeemedPrincipal, JournalTypeRedeemPrincipal)

	jg.appendJournal(batch,
		NewExternalAccountKey(SubTypeExternalDerivativeMarket, jg.yieldAsset),
		NewUserAccountKey(ownerID, SubTypeYieldClaim, jg.yieldAsset),
		jg.yieldAsset, leg.RedeemedYield, JournalTypeRedeemYield)

	jg.appendJournal(batch,
		NewUserAccountKey(ownerID, SubTypeCollateral, jg.baseAsset),
		NewExternalAccountKey(SubTypeExternalDerivativeMarket, jg.baseAsset),
		jg.baseAsset, leg.Proceeds, JournalTypeRedeemProceeds)

	jg.appendJournal(batch,
		NewUserAccountKey(ownerID, SubTypeDebt, jg.baseAsset),
		NewUserAccountKey(ownerID, SubTypeCollateral, jg.baseAsset),
		jg.baseAsset, leg.Repaid, JournalTypeRepay)

	jg.appendJournal(batch,
		NewExternalAccountKey(SubTypeExternalWithdrawals, jg.baseAsset),
		NewUserAccountKey(ownerID, SubTypeCollateral, jg.baseAsset),
		jg.baseAsset, leg.Payout, JournalTypePayout)

	// Fee-on-transfer shortfall on the payout leg. Recorded against its own
	// external account so the collateral account still drains to zero.
	jg.appendJournal(batch,
		NewExternalAccountKey(SubTypeExternalFees, jg.baseAsset),
		NewUserAccountKey(ownerID, SubTypeCollateral, jg.baseAsset),
		jg.baseAsset, leg.Fee, JournalTypeTransferFee)

	if err := batch.Validate(); err != nil {
		return nil, err
	}
	jg.sequence++
	return batch, nil
}

// GenerateEmergencyPayout records a recovery transfer to the withdrawal recipient
func (jg *JournalGenerator) GenerateEmergencyPayout(
	ownerID uuid.UUID,
	eventRef string,
	assetID AssetID,
	amount int64,
	timestamp int64,
) (*Batch, error) {
	batch := jg.newBatch(eventRef, timestamp, 1)

	var source AccountKey
	switch assetID {
	case jg.principalAsset:
		source = NewUserAccountKey(ownerID, SubTypePrincipalClaim, assetID)
	case jg.yieldAsset:
		source = NewUserAccountKey(ownerID, SubTypeYieldClaim, assetID)
	default:
		source = NewUserAccountKey(ownerID, SubTypeCollateral, assetID)
	}

	jg.appendJournal(batch,
		NewExternalAccountKey(SubTypeExternalWithdrawals, assetID),
		source,
		assetID, amount, JournalTypeEmergencyPayout)

	if err := batch.Validate(); err != nil {
		return nil, err
	}
	jg.sequence++
	return batch, nil
}
