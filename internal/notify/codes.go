package notify

// providerErrors maps provider error codes to user-facing text. Codes that are not listed
// translate to FallbackMessage.
var providerErrors = map[int]string{
	11751: "Media Message - Media exceeds messaging provider size limit",
	21408: "Permission to send an SMS or MMS has not been enabled for the region indicated by the \"To\" number",
	21605: "Maximum body length is 160 characters (old API endpoint)",
	21606: "The \"From\" phone number provided is not a valid message-capable Twilio phone number for this destination/account",
	21610: "Attempt to send to unsubscribed recipient",
	21611: "This \"From\" number has exceeded the maximum number of queued messages",
	21612: "Message cannot be sent with the current combination of \"To\" and/or \"From\" parameters",
	21614: "'To' number is not a valid mobile number",
	21619: "A Message Body Media URL or Content SID is required",
	21627: "Max Price must be a valid float",
	21654: "ContentSid Required",
	21655: "The ContentSid is Invalid",
	21658: "Parameter exceeded character limit",
	21709: "Alpha Sender ID is Invalid or Not Authorized for this Messaging Service",
	21710: "Phone Number Already Exists in Messaging Service",
	21711: "Phone Number Shortcode or AlphaSender is not associated to the specified Messaging Service.",
	21712: "Phone Number or Short Code is associated with another Messaging Service.",
	21717: "Brand Registration SID for US A2P Campaign Use Case is Not Registered or Not Valid",
	21720: "A2P Use Case is Invalid",
	21722: "Invalid Campaign Verify token",
	21723: "Campaign Verify token import already in progress",
	21725: "Brand can only be updated when in FAILED state",
	21730: "System under maintenance. Please try again later.",
	21902: "InvoiceTag length must be between 0 and 32",
	21910: "Invalid 'From' and 'To' pair. 'From' and 'To' should be of the same channel",
	23002: "Message Redaction Incompatible Configuration: Short code \"STOP\" filtering",
	23004: "Message Redaction Incompatible Configuration: Advanced Opt-Out",
	23005: "Phone Number Redaction Incompatible Configuration: Fallback to Long Code",
	30002: "Account suspended",
	30003: "Unreachable destination handset",
	30006: "Landline or unreachable carrier",
	30007: "Message filtered",
	30009: "Missing inbound segment",
	30010: "Message price exceeds max price",
	30011: "MMS not supported by the receiving phone number in this region",
	30019: "Content size exceeds carrier limit",
	30020: "Internal Failure with Message Scheduling",
	30021: "Internal Failure with messaging service orchestrator",
	30022: "US A2P 10DLC - Rate Limits Exceeded",
	30024: "Numeric Sender ID Not Provisioned on Carrier",
	30026: "US A2P 10DLC - 70% T-Mobile Daily Message Limit Consumed",
	30027: "US A2P 10DLC - T-Mobile Daily Message Limit Reached",
	30029: "Invalid ContentRetention",
	30031: "Invalid MaxRate",
	30032: "Toll-Free Number Has Not Been Verified",
	30034: "US A2P 10DLC - Message from an Unregistered Number",
	30036: "Validity Period Expired",
	30037: "Outbound Messaging Disabled",
	30038: "OTP Message Body Filtered",
	30040: "Destination carrier requires Sender ID pre-registration",
	30041: "Message from an unregistered number sent to a United Kingdom number",
	30043: "International SMS via Domestic Gateway",
	30100: "Domain SID is invalid",
	30103: "Links not shortened due to application failure.",
	30104: "Shortened link not found. Click redirected to fallback Url",
	30105: "Shortened link not found and no fallback URL found",
	30107: "Domain private certificate has not been uploaded",
	30108: "Twilio account does not belong to an organization",
	30111: "Url is on a deny list",
	30114: "Specified date is not available yet",
	30115: "Date format is incorrect",
	30116: "Certificate or private key or both are missing",
	30117: "Certificate cannot be parsed",
	30118: "Private key is invalid",
	30119: "Certificate and private key pair is invalid",
	30121: "Fallback URL is missing",
	30122: "Fallback URL is invalid",
	30123: "Callback URL is missing",
	30124: "MessagingServiceSID cannot be empty or null",
	30125: "Your phone number could not be registered with US A2P 10DLC",
	30127: "MessagingServiceSID is invalid.",
	30128: "MessagingServiceSidsAction is invalid",
	30129: "Certificate is self signed",
	30130: "Messaging Service SID already belongs in another domain configuration.",
	30131: "Domain's certificate will expire soon",
	30133: "The certificate could not be uploaded.",
	30400: "Parameters are not valid",
	30404: "Not Found",
	30409: "This message cannot be canceled",
	30450: "Message delivery blocked",
	30454: "Account exceeded the messages limit",
	30485: "Message couldn't be delivered",
	35111: "SendAt timestamp is missing",
	35117: "Scheduling does not support this timestamp",
	35118: "MessagingServiceSid is required to schedule a message",
	35125: "Maximum limit reached in the account for scheduling messages",
	35126: "The ScheduleType value provided is not supported for this channel",
	57001: "'Secret id' is empty",
	57002: "'Secret id' is too long",
	57003: "'Secret id' is invalid for this Partner",
	57004: "'Category' is empty",
	57005: "'Category' is too long",
	57006: "'EventType' is empty",
	57007: "'EventType' is absent",
	57009: "'EventType' is too long",
	57011: "Unsupported Partner name",
	57013: "'Topic' is absent",
	57016: "'Topic' is empty",
	57017: "'Topic' is too long",
	57018: "'Event' value type must be Map",
	57019: "'Authorization' header is missing or is invalid",
	57020: "Authorization failed",
	57021: "Token invalid",
	63001: "Channel could not authenticate the request. Please see Channel specific error message for more information",
	63003: "Channel could not find To address",
	63006: "Could not format given content for the channel. Please see Channel specific error message for more information",
	63007: "Twilio could not find a Channel with the specified 'From' address",
	63008: "Could not execute the request because the channel module has been misconfigured. Please check the Channel configuration in Twilio",
	63009: "Channel provider returned an internal service error (HTTP 5xx). Please see Channel specific error message for more information",
	63011: "Invalid Request: Twilio encountered an error while processing your request",
	63016: "Failed to send freeform message because you are outside the allowed window. If you are using WhatsApp please use a Message Template.",
	63019: "Media failed to download",
	63020: "Twilio encountered a Business Manager account error",
	63022: "Invalid vname certificate",
	63023: "Channel generic error",
	63025: "Media already exists",
	63028: "Number of parameters provided does not match the expected number of parameters",
	63029: "The receiver failed to download the template",
	63031: "Channels message cannot have same 'From' and 'To'",
	63035: "This operation is blocked because the RCS agent has not launched the recipient has not accepted the invitation to become a tester or the RCS sender only works in certain regions.",
	63036: "The specified phone number cannot be reached by RBM at this time.",
	63038: "Account exceeded the daily messages limit",
	90001: "Message SID is invalid",
	90006: "Invalid direction",
	90007: "Invalid validity period value",
	90009: "The message SID already exists.",
	90014: "Validity Period should be positive integer",
	90031: "Broadcast Recipients list is empty [deprecated]",
	92002: "The \"variables\" parameter exceeds the allowed limit",
	92004: "Invalid language code",
	92005: "ContentSid Required",
	92007: "The Content Variables Parameter is invalid",
	92008: "Unsupported Content Type",
	92009: "The template associated with this SID has already been submitted for approval.",
}
