package apperr

// Details strings. Callers match on these programmatically, so they are part
// of the public contract and must not be reworded casually.
const (
	ErrorAdminTokenFetch        = "Failed to retrieve admin token. Please try again or contact support if the issue persists."
	KeycloakClientsFetchFailed  = "Failed to fetch clients from Keycloak. Please try again or contact support if the issue persists."
	KeycloakConnectionError     = "Unable to connect to Keycloak server. Please check the connection or try again later."
	KeycloakResponseInvalid     = "Keycloak returned invalid or malformed client data. Please contact support if the issue persists."
	ClientSearchNoResults       = "No clients found matching the search criteria. Please check the search term and try again."
	ClientAlreadyActive         = "Client already exists and is active. Skipping creation."
	ClientCreationFailed        = "Failed to create client in Keycloak. Please try again or contact support if the issue persists."
	ClientUUIDFetchFailed       = "Failed to fetch client UUID after creation. Please try again or contact support if the issue persists."
	DBSaveClientFailed          = "Failed to save client details to the database. Please try again or contact support if the issue persists."
	DBReactivateClientFailed    = "Failed to reactivate client in the database. Please try again or contact support if the issue persists."
	ClientResourceImportFailed  = "Failed to import resources from another client. Please try again or contact support if the issue persists."
	DBInsertFailed              = "The system encountered an unexpected error while attempting to insert data."
	KeycloakPolicyCreateFailed  = "Failed to create policy. Please try again or contact support if the issue persists."
	KeycloakPolicyDeleteFailed  = "Failed to delete policy. Please try again or contact support if the issue persists."
	InvalidInput                = "The input provided is invalid or does not meet the required format or constraints."
	ClientNotFoundKeycloak      = "Client not found in Keycloak. Please verify the client ID."
	ClientNotFoundDB            = "Client not found in the database or already inactive."
	ClientDBDeactivateFailed    = "Failed to deactivate client in the database. Please try again or contact support if the issue persists."
	ClientKeycloakDeleteFailed  = "Failed to delete client from Keycloak. Please try again or contact support if the issue persists."
	RoleProcessingFailed        = "An unexpected error occurred while processing roles. Please try again or contact support if the issue persists."
	RolesCreationFailed         = "Failed to create roles. Please try again or contact support if the issue persists."
	KeycloakRoleDeleteFailed    = "Failed to delete roles. Please try again or contact support if the issue persists."
	SourceClientNotFound        = "Source client not found in Keycloak. Please verify the client ID."
	ResourceFetchFailed         = "Failed to fetch resources from Keycloak for the client. Please try again or contact support if the issue persists."
	ResourcePostFailed          = "Failed to POST resource to Keycloak. Please verify the data and try again."
	ResourceNameMissing         = "Resource name missing. Cannot import resource without a name."
	ThreadWorkerException       = "Exception occurred in resource import worker. Please check logs for details."
	ClientScopeDeleteFailed     = "Failed to delete client-specific scopes from Keycloak"
	ListRolesFailed             = "The system encountered an unexpected error while attempting to retrieve the list of roles."
	RoleNotFound                = "Role not found or already inactive."
	RoleLogParentMissing        = "Role id not found while logging action. Please try again or contact support if the error persists."
	ClientNotFound              = "Client not found."
	DatabaseError               = "Database operation failed."
	UnexpectedError             = "An unexpected error has occurred. Please try again or contact support if the error persists."
	InternalServerError         = "An unexpected error occurred. Please try again or contact support if the issue persists."
	ClientHistoryFetchFailed    = "Failed to load client history. Please try again or contact support if the issue persists."
	ClientBucketProvisionFailed = "Failed to provision the client bucket prefix."
)

// Short human messages.
const (
	MsgAdminTokenUnavailable = "Admin token is unavailable or could not be retrieved."
	MsgClientsFetchFailed    = "Unable to retrieve clients."
	MsgClientsNoMatch        = "No clients found matching the search criteria."
	MsgClientAlreadyActive   = "Client is already active."
	MsgClientCreationFailed  = "Failed to create Keycloak client."
	MsgClientUUIDFetchFailed = "Failed to fetch client UUID after retries."
	MsgClientNotFound        = "Client not found."
	MsgClientDeleteFailed    = "Failed to delete the client from Keycloak."
	MsgClientLogFailed       = "Failed to save client action log."
	MsgSourceClientNotFound  = "Source client not found."
	MsgResourceFetchFailed   = "Failed to fetch client resources."
	MsgResourceNameMissing   = "Resource name missing."
	MsgResourcePostFailed    = "Failed to post resource item."
	MsgThreadWorkerFailed    = "Import worker failed."
	MsgImportFailed          = "Failed to import resources for the client."
	MsgRoleNotFound          = "Role not found."
	MsgRoleCreationFailed    = "Failed to create role."
	MsgRoleDeleteFailed      = "Failed to delete role."
	MsgListRolesFailed       = "Failed to list roles."
	MsgDBSaveError           = "Failed to save to database."
	MsgInvalidInput          = "Invalid input provided."
	MsgUpstreamUnavailable   = "Identity server is unreachable."
	MsgUpstreamRejected      = "Identity server rejected the request."
	MsgUnexpected            = "Unexpected error occurred."
)
