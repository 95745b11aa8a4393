package apierr

// Client-visible messages. The wording is kept stable for existing clients.
const (
	MsgUnauthenticated = "You do not have permission to perform this action"
	MsgRateLimited     = "Too many attempts, please try again later"

	MsgUserNotFound      = "Cannot find user with given id"
	MsgUsernameTaken     = "A user with that username already exists."
	MsgUsernameRequired  = "Username cannot be empty"
	MsgUsernameTooLong   = "Username cannot be longer than 150 characters"
	MsgUsernameInvalid   = "Username may contain only letters, digits and @/./+/-/_ characters"
	MsgEmailRequired     = "Email cannot be empty"
	MsgEmailInvalid      = "Enter a valid email address"
	MsgPasswordRequired  = "Password cannot be empty"
	MsgInvalidCredential = "Please enter valid credentials"
	MsgSignatureExpired  = "Signature has expired"
	MsgSignatureInvalid  = "Error decoding signature"
	MsgInvalidRefresh    = "Invalid refresh token"

	MsgBookNotFound       = "Book with this id doesn't exist"
	MsgYearNegative       = "Year published cannot be negative"
	MsgTitleRequired      = "Title cannot be empty"
	MsgTitleTooLong       = "Title cannot be longer than 255 characters"
	MsgBookUpdateNotOwner = "You cannot update a book which is not yours"
	MsgBookDeleteNotOwner = "You cannot delete a book which is not yours"
	MsgSkipNegative       = "Skip value cannot be negative"
	MsgFirstNegative      = "First value cannot be negative"

	MsgProfileNotFound       = "Profile with given ID does not exist"
	MsgNoProfile             = "You do not have a profile"
	MsgProfileExists         = "You already have a profile"
	MsgProfileUpdateNotOwner = "You cannot modify a profile that is not yours"
	MsgProfileDeleteNotOwner = "You cannot delete a profile that is not yours"
	MsgNoFile                = "No file was uploaded"
	MsgFileTooLarge          = "Uploaded file is too large"
	MsgFileType              = "Unsupported image type"
	MsgFileNameTooLong       = "Uploaded file name is too long"

	MsgReviewNotFound       = "Review with this id doesn't exist"
	MsgReviewOwnBook        = "You cannot review your own book"
	MsgReviewTextRequired   = "Review text cannot be empty"
	MsgReviewUpdateNotOwner = "You cannot update a review which is not yours"
	MsgReviewDeleteNotOwner = "You cannot delete a review which is not yours"
)
