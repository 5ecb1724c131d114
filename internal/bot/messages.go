package bot

const msgHelp = `🤖 I fill PDF forms from your documents.

/register - create an account
/login - sign in with a code sent to your email
/logout - sign out
/files - list your vault and upload documents
/submit_files - save uploaded documents to your vault
/process_file - read your documents and extract your details
/form - upload the PDF form to fill
/submit_form - save the uploaded form
/process_form - match the form fields to your details
/get_form - receive the filled form
/cancel - abandon the current dialogue or upload`

const (
	MsgAlreadyLoggedIn     = "✅ You're already logged in from this device."
	MsgLoggedOut           = "✅ You have been logged out."
	MsgNotLoggedIn         = "ℹ️ You are not currently logged in."
	MsgInactiveLogout      = "⏳ You have been logged out due to inactivity."
	MsgLoginFirst          = "❌ Please /login first."
	MsgCancelled           = "🚫 Cancelled."
	MsgNothingToCancel     = "ℹ️ Nothing to cancel."
	MsgUnknownCommand      = "❓ Unknown command. Send /help to see what I can do."
	MsgUnknownInput        = "ℹ️ Send /help to see what I can do."
	MsgInternalError       = "❌ Something went wrong. Please try again."
	MsgVaultHeader         = "📁 Your vault files:\n%s\n\n📤 Now upload files. When done, type /submit_files to confirm."
	MsgVaultEmpty          = "📂 No files in your vault yet."
	MsgUploadNotOpen       = "⚠️ Use /files or /form before uploading."
	MsgFileReceived        = "📎 File '%s' received and saved temporarily."
	MsgFileTooLarge        = "⚠️ '%s' is too large to accept."
	MsgDownloadFailed      = "❌ Failed to download '%s'. Please send it again."
	MsgNoFilesStaged       = "📭 No files were uploaded yet."
	MsgFilesSaved          = "✅ Files successfully saved to your vault:\n%s"
	MsgSendForm            = "📄 Please upload your PDF form now. Only the first file will be accepted."
	MsgNotPDF              = "⚠️ Please upload a valid PDF file."
	MsgFormAlreadyReceived = "⚠️ You've already uploaded a form. Only the first PDF will be used."
	MsgFormReceived        = "✅ Form '%s' received. Now type /submit_form to save it."
	MsgNoFormStaged        = "📭 No form found. Please use /form to upload your PDF form first."
	MsgFormSaved           = "✅ Your form '%s' has been submitted and saved successfully."
	MsgIngestStarted       = "🔎 Reading your documents..."
	MsgIngestDone          = "✅ Files processed: %d read, %d skipped, %d details extracted."
	MsgIngestEmptyVault    = "📂 Your vault is empty. Upload documents with /files first."
	MsgIngestNoText        = "⚠️ No text could be read from your documents."
	MsgIngestFailed        = "❌ Failed to process files. Please try again."
	MsgBusy                = "⏳ Your previous request is still running. Please wait."
	MsgProcessing          = "📄 Processing form: %s"
	MsgNoForm              = "📭 No PDF form found. Use /form to upload one."
	MsgNeedLabels          = "❌ You need to run /process_file first to extract your details."
	MsgExtractFailed       = "❌ Failed to extract the form fields."
	MsgAlignFailed         = "❌ Failed to align your form fields. Run /process_form again to retry."
	MsgProcessed           = "✅ Form field alignment completed. Use /get_form to receive your filled form."
	MsgFilling             = "🛠️ Filling your form..."
	MsgNeedProcess         = "⚠️ Final mapped data not found. Please run /process_form first."
	MsgFillFailed          = "❌ Failed to generate the filled form."
	MsgSendFailed          = "❌ Could not send the filled form. Run /get_form again to retry."
	MsgDelivered           = "✅ Your filled form has been delivered."
)
