package recommend

const defaultSlotReason = "Thời điểm phù hợp để thực hiện"

var slotReasons = map[string]map[string]string{
	"thể thao": {
		Morning:   "Buổi sáng là thời điểm tốt nhất để tập luyện, tăng năng lượng cả ngày",
		Afternoon: "Chiều là lúc cơ thể đạt hiệu suất cao nhất",
		Evening:   "Tập buổi tối giúp giảm stress sau một ngày làm việc",
		Night:     "Tập nhẹ buổi tối giúp ngủ ngon hơn",
	},
	"học tập": {
		Morning:   "Buổi sáng đầu óc tỉnh táo, dễ tiếp thu kiến thức mới",
		Afternoon: "Sau giấc ngủ trưa là lúc tốt để học tập hiệu quả",
		Evening:   "Buổi tối yên tĩnh, dễ tập trung vào việc học",
		Night:     "Học vào buổi tối giúp củng cố kiến thức trước khi ngủ",
	},
	"đời sống": {
		Morning:   "Bắt đầu ngày mới với năng lượng tích cực",
		Afternoon: "Thời điểm phù hợp để xử lý các công việc nhà",
		Evening:   "Kết thúc ngày với những hoạt động thư giãn",
		Night:     "Chuẩn bị cho ngày mai một cách thoải mái",
	},
	"sức khỏe": {
		Morning:   "Bắt đầu ngày với thói quen tốt cho sức khỏe",
		Afternoon: "Duy trì năng lượng suốt cả ngày",
		Evening:   "Thư giãn và phục hồi sau một ngày làm việc",
		Night:     "Chuẩn bị cho một giấc ngủ ngon",
	},
	"tài chính": {
		Morning:   "Đầu ngày là lúc tốt để lập kế hoạch tài chính",
		Afternoon: "Thời gian phù hợp để xem xét và điều chỉnh",
		Evening:   "Tổng kết chi tiêu trong ngày",
		Night:     "Lên kế hoạch cho ngày hôm sau",
	},
	"sáng tạo": {
		Morning:   "Sáng sớm là lúc sáng tạo nhất trong ngày",
		Afternoon: "Sau khi nạp năng lượng, ý tưởng dễ đến hơn",
		Evening:   "Không khí yên tĩnh kích thích sự sáng tạo",
		Night:     "Đêm khuya là thời điểm của những ý tưởng độc đáo",
	},
	"công việc": {
		Morning:   "Bắt đầu ngày làm việc với hiệu suất cao nhất",
		Afternoon: "Thời gian vàng để xử lý công việc quan trọng",
		Evening:   "Hoàn thiện công việc còn dở dang",
		Night:     "Lên kế hoạch cho ngày làm việc tiếp theo",
	},
	"xã hội": {
		Morning:   "Bắt đầu ngày với kết nối tích cực",
		Afternoon: "Thời gian rảnh để gặp gỡ mọi người",
		Evening:   "Buổi tối là lúc tốt nhất để giao lưu",
		Night:     "Duy trì mối quan hệ qua các cuộc trò chuyện",
	},
}

const generalTip = "Hãy bắt đầu từ từ và tăng dần cường độ"

var categoryTips = map[string][]string{
	"thể thao": {
		"Khởi động kỹ trước khi tập",
		"Uống đủ nước trong quá trình tập luyện",
		"Nghỉ ngơi hợp lý giữa các set",
	},
	"học tập": {
		"Tạo môi trường yên tĩnh để học",
		"Sử dụng kỹ thuật Pomodoro (25 phút tập trung)",
		"Ghi chú lại những điểm quan trọng",
	},
	"đời sống": {
		"Lập danh sách công việc cần làm",
		"Hoàn thành từng việc một, không làm nhiều việc cùng lúc",
		"Thưởng cho bản thân sau khi hoàn thành",
	},
	"sức khỏe": {
		"Duy trì thói quen đều đặn",
		"Lắng nghe cơ thể của bạn",
		"Kết hợp với chế độ ăn lành mạnh",
	},
	"tài chính": {
		"Ghi chép chi tiết mọi khoản chi",
		"Đặt mục tiêu cụ thể và rõ ràng",
		"Xem xét lại kế hoạch định kỳ",
	},
	"sáng tạo": {
		"Đừng sợ thất bại, mọi ý tưởng đều có giá trị",
		"Tìm kiếm cảm hứng từ xung quanh",
		"Luyện tập thường xuyên để cải thiện",
	},
	"công việc": {
		"Ưu tiên công việc quan trọng nhất",
		"Loại bỏ các yếu tố gây xao nhãng",
		"Nghỉ ngơi ngắn sau mỗi 2 giờ làm việc",
	},
	"xã hội": {
		"Lắng nghe chân thành",
		"Thể hiện sự quan tâm thực sự",
		"Duy trì liên lạc đều đặn",
	},
}

const (
	tipBeginner = "Bạn đang ở giai đoạn đầu, hãy tập trung vào việc tạo thói quen"
	tipGrowing  = "Tăng dần độ khó để thử thách bản thân"
	tipAdvanced = "Bạn đã rất giỏi! Hãy thử những thử thách nâng cao hơn"
)

const (
	prereqLevelFmt   = "Cần đạt level %d trong category %s"
	prereqCurrentFmt = "Bạn hiện tại đang ở level %d"
)
