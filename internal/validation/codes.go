package validation

// Code identifies a distinct failure branch. Every branch in the pipeline
// and in issuance maps to exactly one code; nothing is folded together.
type Code string

const (
	// Redemption pipeline, in check order.
	CodeNotFound          Code = "NOT_FOUND"
	CodeAlreadyRedeemed   Code = "ALREADY_REDEEMED"
	CodeExpired           Code = "EXPIRED"
	CodeBenefitMissing    Code = "BENEFIT_MISSING"
	CodeMerchantMismatch  Code = "MERCHANT_MISMATCH"
	CodeOutOfGeofence     Code = "OUT_OF_GEOFENCE"
	CodeOutsideTimeWindow Code = "OUTSIDE_TIME_WINDOW"
	CodeBlackout          Code = "BLACKOUT_DATE"

	// PIN lookup: zero or multiple matches are never disambiguated.
	CodePinAmbiguousOrNotFound Code = "PIN_AMBIGUOUS_OR_NOT_FOUND"

	// Issuance failures.
	CodeBenefitNotFound       Code = "BENEFIT_NOT_FOUND"
	CodeBenefitInactive       Code = "BENEFIT_INACTIVE"
	CodeOutOfValidityWindow   Code = "OUT_OF_VALIDITY_WINDOW"
	CodeStudentOnly           Code = "STUDENT_ONLY"
	CodeQuotaExceededTotal    Code = "QUOTA_EXCEEDED_TOTAL"
	CodeQuotaExceededDaily    Code = "QUOTA_EXCEEDED_DAILY"
	CodeQuotaExceededUser     Code = "QUOTA_EXCEEDED_USER"
	CodeDuplicateActiveCoupon Code = "DUPLICATE_ACTIVE_COUPON"
)
